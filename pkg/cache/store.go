package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/rendercache/internal/tasks"
	"github.com/Sternrassler/rendercache/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRemoteWriteTimeout bounds a single asynchronous remote write.
	DefaultRemoteWriteTimeout = 30 * time.Second

	// DefaultRemoteReadTimeout bounds a shared remote lookup.
	DefaultRemoteReadTimeout = 10 * time.Second
)

// Options configures a Store.
type Options struct {
	// MaxMemoryBytes bounds the memory layer in estimated bytes.
	// Zero disables the memory layer.
	MaxMemoryBytes int

	// Handler is the optional remote or custom backend.
	Handler Handler

	// Now is the clock used for LastModified and staleness (default time.Now).
	Now func() time.Time

	// RemoteWriteTimeout bounds each asynchronous remote write.
	RemoteWriteTimeout time.Duration

	// RemoteReadTimeout bounds each remote lookup. Lookups are shared by
	// concurrent callers, so they do not stop when one caller gives up.
	RemoteReadTimeout time.Duration

	// Cooldown is how long remote calls are skipped after repeated failures.
	Cooldown time.Duration

	// Logger receives cache diagnostics (default: global logger).
	Logger *zerolog.Logger
}

// Store is the incremental cache shared by all render attempts. It layers
// a byte-bounded LRU in front of an optional Handler. Safe for concurrent use.
type Store struct {
	memory       *memoryLRU
	handler      Handler
	now          func() time.Time
	writeTimeout time.Duration
	readTimeout  time.Duration
	health       *backendHealth
	logger       zerolog.Logger

	lookups singleflight.Group
	writes  tasks.Group
}

// NewStore creates a cache store.
func NewStore(opts Options) *Store {
	s := &Store{
		handler:      opts.Handler,
		now:          opts.Now,
		writeTimeout: opts.RemoteWriteTimeout,
		readTimeout:  opts.RemoteReadTimeout,
		health:       newBackendHealth(opts.Cooldown),
	}
	if opts.MaxMemoryBytes > 0 {
		s.memory = newMemoryLRU(opts.MaxMemoryBytes)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultRemoteWriteTimeout
	}
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultRemoteReadTimeout
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	} else {
		s.logger = logging.NewCacheLogger("incremental-cache")
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get retrieves the entry for key. It checks the memory layer first, then
// the handler, populating memory on a remote hit. Concurrent misses for the
// same key share one remote lookup.
//
// Returns ErrCacheMiss when fetchCache is false, the key is absent, or the
// backend failed; backend failures are logged, never returned.
func (s *Store) Get(ctx context.Context, key string, fetchCache bool) (*Entry, error) {
	if !fetchCache {
		return nil, ErrCacheMiss
	}

	if s.memory != nil {
		if entry, ok := s.memory.Get(key); ok {
			CacheHits.WithLabelValues("memory").Inc()
			s.logger.Debug().Str("key", key).Str("layer", "memory").Msg("Cache hit")
			return entry, nil
		}
	}

	if s.handler == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	lookup := s.lookups.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()
		return s.remoteGet(lctx, key), nil
	})

	var entry *Entry
	select {
	case res := <-lookup:
		entry, _ = res.Val.(*Entry)
	case <-ctx.Done():
	}
	if entry == nil {
		CacheMisses.Inc()
		s.logger.Debug().Str("key", key).Msg("Cache miss")
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("remote").Inc()
	s.logger.Debug().Str("key", key).Str("layer", "remote").Msg("Cache hit")
	return entry, nil
}

// remoteGet asks the handler for key. Returns nil on miss or failure.
func (s *Store) remoteGet(ctx context.Context, key string) *Entry {
	now := s.now()
	if !s.health.Allow(now) {
		RemoteSkipped.Inc()
		return nil
	}

	entry, err := s.handler.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			s.health.Success(now)
			return nil
		}
		s.remoteFailed("get", key, err)
		return nil
	}
	if entry == nil || entry.Value == nil || entry.Value.Kind != KindFetch {
		s.remoteFailed("decode", key, ErrInvalidEntry)
		return nil
	}
	s.health.Success(now)

	if s.memory != nil {
		if err := s.memory.Set(key, entry); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Failed to populate memory cache")
		}
	}
	return entry
}

// Set stores value under key. The memory layer is written synchronously;
// the handler is written in the background. Set never fails: problems are
// logged and counted. Use Flush to wait for background writes.
func (s *Store) Set(ctx context.Context, key string, value *Value, fetchCache bool) {
	if !fetchCache {
		return
	}
	if err := value.Validate(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Error().Err(err).Str("key", key).Msg("Refusing to cache invalid value")
		return
	}

	if s.memory != nil {
		entry := &Entry{Value: value, LastModified: s.now()}
		if err := s.memory.Set(key, entry); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			s.logger.Error().Err(err).Str("key", key).Msg("Failed to update memory cache")
		}
	}

	if s.handler == nil {
		return
	}
	if !s.health.Allow(s.now()) {
		RemoteSkipped.Inc()
		return
	}

	s.writes.Go(func() {
		// The write outlives the render that triggered it
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
		defer cancel()

		if err := s.handler.Set(wctx, key, value); err != nil {
			s.remoteFailed("set", key, err)
			return
		}
		s.health.Success(s.now())
		s.logger.Debug().
			Str("key", key).
			Int("revalidate", value.Revalidate).
			Msg("Cache write")
	})
}

// Delete drops key from the memory layer. Remote entries expire on their own.
func (s *Store) Delete(key string) {
	if s.memory != nil {
		s.memory.Delete(key)
	}
}

// MemorySize returns the estimated bytes in the memory layer.
func (s *Store) MemorySize() int {
	if s.memory == nil {
		return 0
	}
	return s.memory.Size()
}

// MemoryLen returns the number of entries in the memory layer.
func (s *Store) MemoryLen() int {
	if s.memory == nil {
		return 0
	}
	return s.memory.Len()
}

// BackendState returns the remote backend's health snapshot.
func (s *Store) BackendState() BackendState {
	return s.health.State()
}

// Flush waits for pending background writes, including ones started while
// it waits, or ctx cancellation.
func (s *Store) Flush(ctx context.Context) error {
	return s.writes.Wait(ctx)
}

// Close flushes pending writes.
func (s *Store) Close() error {
	return s.Flush(context.Background())
}

func (s *Store) remoteFailed(op, key string, err error) {
	CacheErrors.WithLabelValues(op).Inc()
	state := s.health.Failure(s.now())

	event := s.logger.Error()
	if state.NeedsCriticalBlock(s.now()) {
		event = event.Dur("blocked_for", state.TimeUntilReset(s.now()))
	}
	event.Err(err).
		Str("operation", op).
		Str("key", key).
		Int("consecutive_failures", state.ConsecutiveFailures).
		Msg("Remote cache operation failed")
}
