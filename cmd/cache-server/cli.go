package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/rendercache/internal/config"
	"github.com/Sternrassler/rendercache/pkg/cacheserver"
	"github.com/Sternrassler/rendercache/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// CLI is the cache-server command line interface.
type CLI struct {
	rootCmd    *cobra.Command
	configPath string
}

// NewCLI creates the CLI.
func NewCLI() *CLI {
	rootCmd := &cobra.Command{
		Use:           "cache-server",
		Short:         "Remote fetch cache for render caching",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	c := &CLI{rootCmd: rootCmd}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cache-server version %s\n", version)
		},
	}
}

func (c *CLI) newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the getItems/setItems cache contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			logger := logging.Setup(cfg.LoggingSetup())
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides config)")

	return cmd
}

// serve runs the server until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	handler, err := cacheserver.New(cacheserver.Config{
		Store:        store,
		Token:        cfg.Token,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Listen).
			Str("backend", cfg.Store.Backend).
			Bool("auth", cfg.Token != "").
			Msg("Starting cache server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down cache server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStore connects the configured item store.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cacheserver.ItemStore, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		store, err := cacheserver.NewSQLiteItemStore(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Store.SQLite.PurgeAfter > 0 {
			go purgeLoop(ctx, store, cfg.Store.SQLite, logger)
		}
		logger.Info().Str("path", cfg.Store.SQLite.Path).Msg("Opened SQLite item store")
		return store, nil

	default:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Store.Redis.Addr).Msg("Connected to Redis")
		return cacheserver.NewRedisItemStore(redisClient, cfg.Store.Redis.TTL), nil
	}
}

// purgeLoop removes expired SQLite items until ctx is cancelled.
func purgeLoop(ctx context.Context, store *cacheserver.SQLiteItemStore, cfg config.SQLiteConfig, logger zerolog.Logger) {
	interval := cfg.PurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Purge(ctx, time.Now().Add(-cfg.PurgeAfter))
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to purge expired items")
				continue
			}
			if removed > 0 {
				logger.Info().Int64("removed", removed).Msg("Purged expired items")
			}
		}
	}
}
