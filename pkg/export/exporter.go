package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/rendercache/pkg/cache"
	"github.com/Sternrassler/rendercache/pkg/logging"
	"github.com/Sternrassler/rendercache/pkg/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	exportRoutesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_export_routes_total",
		Help: "Total exported routes by result",
	}, []string{"result"}) // "static", "dynamic", "failed"

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rendercache_export_duration_seconds",
		Help:    "Duration of a full export run in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Config holds exporter configuration
type Config struct {
	// MaxConcurrency is the maximum number of routes rendered in parallel
	MaxConcurrency int

	// Timeout bounds a single render attempt
	Timeout time.Duration

	// BufferSize is the channel buffer size (default: number of routes)
	BufferSize int

	// DynamicFallback re-renders routes that bailed out of static
	// generation with static generation disabled, to surface genuine
	// errors at export time
	DynamicFallback bool
}

// DefaultConfig returns the default exporter configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        60 * time.Second,
	}
}

// Route is a page to export.
type Route struct {
	// Pathname identifies the route, e.g. "/blog/[slug]" rendered as "/blog/a".
	Pathname string

	// Render produces the route. Every fetch it makes must use the context
	// it is given.
	Render render.Func

	// ForceDynamic suppresses revalidate-0 bailouts.
	ForceDynamic bool

	// ForceStatic turns client-rendering bailouts into fallbacks.
	ForceStatic bool
}

// RouteResult is the export decision for one route.
type RouteResult struct {
	Pathname string

	// Outcome is the static generation attempt's outcome.
	Outcome render.Outcome

	// Revalidate is the route's revalidate window. RevalidateNever means
	// the output is static until explicitly invalidated; zero means the
	// route renders on every request.
	Revalidate cache.Revalidate

	// Dynamic is set when the route must render on every request.
	Dynamic bool

	// DynamicUsageDescription and DynamicUsageStack explain a dynamic
	// bailout caused by a fetch.
	DynamicUsageDescription string
	DynamicUsageStack       string

	// Fallback is the dynamic re-render's outcome, when one was made.
	Fallback *render.Outcome

	// BackgroundTasks counts stale-while-revalidate refreshes started.
	BackgroundTasks int

	// Err is set when the route failed to export.
	Err error

	Duration time.Duration
}

// Exporter renders routes against a shared incremental cache.
type Exporter struct {
	cache  *cache.Store
	config Config
	logger zerolog.Logger
}

// New creates an exporter. incremental may be nil to render without
// fetch caching.
func New(incremental *cache.Store, config Config) *Exporter {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Exporter{
		cache:  incremental,
		config: config,
		logger: logging.NewLogger("export"),
	}
}

// Export renders a single route as a static generation attempt.
func (e *Exporter) Export(ctx context.Context, route Route) RouteResult {
	return e.renderRoute(ctx, route, false)
}

// Revalidate regenerates a single route in the background revalidation
// mode: stale cached fetches are refetched before the render continues.
func (e *Exporter) Revalidate(ctx context.Context, route Route) RouteResult {
	return e.renderRoute(ctx, route, true)
}

func (e *Exporter) renderRoute(ctx context.Context, route Route, isRevalidate bool) RouteResult {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	attempt := render.Run(attemptCtx, render.Options{
		IsStaticGeneration: true,
		IsRevalidate:       isRevalidate,
		ForceDynamic:       route.ForceDynamic,
		ForceStatic:        route.ForceStatic,
		Pathname:           route.Pathname,
		Cache:              e.cache,
	}, route.Render)

	result := RouteResult{
		Pathname:                route.Pathname,
		Outcome:                 attempt.Outcome,
		DynamicUsageDescription: attempt.DynamicUsageDescription,
		DynamicUsageStack:       attempt.DynamicUsageStack,
		BackgroundTasks:         attempt.BackgroundTasks,
	}

	switch {
	case attempt.Outcome.Kind == render.OutcomeSuccess:
		if attempt.HasRevalidate {
			result.Revalidate = cache.RevalidateAfter(attempt.Revalidate)
			result.Dynamic = attempt.Revalidate == 0
		} else {
			result.Revalidate = cache.RevalidateNever()
		}

	case attempt.Outcome.IsStaticBailout():
		result.Revalidate = cache.RevalidateAfter(0)
		result.Dynamic = true
		if result.DynamicUsageDescription == "" && attempt.Outcome.Reason != "" {
			result.DynamicUsageDescription = attempt.Outcome.Reason
		}
		if e.config.DynamicFallback && attempt.Outcome.Kind == render.OutcomeDynamic {
			e.renderFallback(ctx, route, &result)
		}

	default:
		result.Err = fmt.Errorf("render %s: %w", route.Pathname, attempt.Outcome.Err)
	}

	result.Duration = time.Since(start)
	e.record(result)
	return result
}

// renderFallback re-renders route without static generation. A genuine
// error there fails the route.
func (e *Exporter) renderFallback(ctx context.Context, route Route, result *RouteResult) {
	fallbackCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	fallback := render.Run(fallbackCtx, render.Options{
		ForceDynamic: route.ForceDynamic,
		ForceStatic:  route.ForceStatic,
		Pathname:     route.Pathname,
		Cache:        e.cache,
	}, route.Render)

	result.Fallback = &fallback.Outcome
	result.BackgroundTasks += fallback.BackgroundTasks
	if fallback.Outcome.Kind == render.OutcomeError {
		result.Err = fmt.Errorf("render %s dynamically: %w", route.Pathname, fallback.Outcome.Err)
	}
}

func (e *Exporter) record(result RouteResult) {
	switch {
	case result.Err != nil:
		exportRoutesTotal.WithLabelValues("failed").Inc()
		e.logger.Error().
			Err(result.Err).
			Str("pathname", result.Pathname).
			Msg("Route export failed")
	case result.Dynamic:
		exportRoutesTotal.WithLabelValues("dynamic").Inc()
		e.logger.Debug().
			Str("pathname", result.Pathname).
			Str("outcome", result.Outcome.Kind.String()).
			Str("reason", result.DynamicUsageDescription).
			Msg("Route is dynamic")
	default:
		exportRoutesTotal.WithLabelValues("static").Inc()
		e.logger.Debug().
			Str("pathname", result.Pathname).
			Str("revalidate", result.Revalidate.String()).
			Dur("duration", result.Duration).
			Msg("Route exported")
	}
}

// ExportAll renders routes in parallel using a worker pool. Results are
// returned in route order. The error reports how many routes failed; the
// results are complete either way.
func (e *Exporter) ExportAll(ctx context.Context, routes []Route) ([]RouteResult, error) {
	start := time.Now()
	defer func() {
		exportDuration.Observe(time.Since(start).Seconds())
	}()

	results := make([]RouteResult, len(routes))
	if len(routes) == 0 {
		return results, nil
	}

	e.logger.Info().
		Int("routes", len(routes)).
		Int("workers", e.config.MaxConcurrency).
		Msg("Starting export")

	bufferSize := e.config.BufferSize
	if bufferSize <= 0 {
		bufferSize = len(routes)
	}

	queue := make(chan int, bufferSize)
	go func() {
		defer close(queue)
		for i := range routes {
			select {
			case queue <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	workers := e.config.MaxConcurrency
	if workers > len(routes) {
		workers = len(routes)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		failed    int
		firstErr  error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0

			for idx := range queue {
				if ctx.Err() != nil {
					e.logger.Debug().
						Int("worker_id", workerID).
						Int("routes_processed", processed).
						Msg("Worker stopping (context cancelled)")
					return
				}

				result := e.Export(ctx, routes[idx])
				processed++

				mu.Lock()
				results[idx] = result
				completed++
				if result.Err != nil {
					failed++
					if firstErr == nil {
						firstErr = result.Err
					}
				}
				if completed%50 == 0 {
					e.logger.Info().
						Int("completed", completed).
						Int("total", len(routes)).
						Float64("progress_pct", float64(completed)/float64(len(routes))*100).
						Msg("Export progress")
				}
				mu.Unlock()
			}

			if processed > 0 {
				e.logger.Debug().
					Int("worker_id", workerID).
					Int("routes_processed", processed).
					Msg("Worker completed")
			}
		}(i)
	}
	wg.Wait()

	e.logger.Info().
		Int("routes", completed).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Export complete")

	if err := ctx.Err(); err != nil && completed < len(routes) {
		return results, fmt.Errorf("export cancelled (%d/%d routes rendered): %w", completed, len(routes), err)
	}
	if firstErr != nil {
		return results, fmt.Errorf("export failed for %d/%d routes: %w", failed, len(routes), firstErr)
	}
	return results, nil
}
