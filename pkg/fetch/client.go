// Package fetch provides the data-fetching client used during rendering.
// It intercepts every request made under a render context to serve cached
// responses, schedule stale-while-revalidate refreshes, persist cacheable
// responses and signal dynamic usage during static generation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/rendercache/pkg/cache"
	"github.com/Sternrassler/rendercache/pkg/logging"
	"github.com/Sternrassler/rendercache/pkg/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch decisions.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_fetch_requests_total",
		Help: "Total intercepted fetches by cache decision",
	}, []string{"decision"}) // "passthrough", "hit", "stale", "miss", "uncached", "dynamic"

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rendercache_fetch_duration_seconds",
		Help:    "Upstream fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"mode"}) // "foreground", "background"

	backgroundRevalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_background_revalidations_total",
		Help: "Total stale-while-revalidate refreshes by result",
	}, []string{"result"}) // "ok", "error"
)

// Doer performs HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options are the per-fetch caching hints.
type Options struct {
	// Revalidate is the "next.revalidate" hint.
	Revalidate cache.Revalidate

	// Cache is the request cache mode.
	Cache cache.Mode
}

// Config holds the client configuration.
type Config struct {
	// HTTPClient performs upstream requests (default: 30s timeout client).
	// Passing a Doer from Client.Doer, or an *http.Client from
	// Client.HTTPClient, reuses its upstream instead of wrapping twice.
	HTTPClient Doer

	// Logger receives fetch decisions (default: cache logger "fetch").
	Logger *zerolog.Logger
}

// Client is the fetch capability handed to rendering code. Requests made
// with a context carrying a render store are intercepted; all others pass
// through to the upstream unchanged.
type Client struct {
	upstream Doer
	logger   zerolog.Logger
}

// New creates a fetch client.
func New(cfg Config) *Client {
	upstream := cfg.HTTPClient
	if upstream == nil {
		upstream = &http.Client{Timeout: 30 * time.Second}
	}

	// Never stack two interception layers
	if inner := intercepting(upstream); inner != nil {
		upstream = inner.upstream
	}

	logger := logging.NewCacheLogger("fetch")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		upstream: upstream,
		logger:   logger,
	}
}

// Wrap returns d wrapped with interception. A Doer that already
// intercepts yields its own Client.
func Wrap(d Doer) *Client {
	if c := intercepting(d); c != nil {
		return c
	}
	return New(Config{HTTPClient: d})
}

// intercepting returns the Client behind d, or nil if d does not intercept.
func intercepting(d Doer) *Client {
	switch inner := d.(type) {
	case clientDoer:
		return inner.client
	case *http.Client:
		if t, ok := inner.Transport.(*Transport); ok {
			return t.Client
		}
	}
	return nil
}

// clientDoer adapts a Client to Doer, reading hints from the request
// context.
type clientDoer struct {
	client *Client
}

func (d clientDoer) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req, OptionsFromContext(req.Context()))
}

// Doer returns c as a Doer. Hints are read from the request context (see
// WithOptions).
func (c *Client) Doer() Doer {
	return clientDoer{client: c}
}

// Upstream returns the unwrapped upstream Doer.
func (c *Client) Upstream() Doer {
	return c.upstream
}

// Get performs a GET request under ctx.
func (c *Client) Get(ctx context.Context, url string, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req, opts)
}

// Do performs req, applying the render store found in req.Context().
//
// Upstream errors are returned unchanged. During static generation a
// request that cannot be statically cached returns a
// *render.DynamicUsageError without touching the network.
func (c *Client) Do(req *http.Request, opts Options) (*http.Response, error) {
	ctx := req.Context()

	store := render.FromContext(ctx)
	if store == nil {
		fetchRequestsTotal.WithLabelValues("passthrough").Inc()
		return c.upstream.Do(req)
	}

	// Step 1: Resolve the requested revalidate window
	revalidate, hasRevalidate := opts.Revalidate.Seconds()

	// Step 2: The page is at most as fresh as its most volatile fetch
	if hasRevalidate {
		store.ObserveRevalidate(revalidate)
	}

	// Step 3: Only cacheable requests are fingerprinted
	incremental := store.Cache()
	policy := cache.Policy{Revalidate: opts.Revalidate, Mode: opts.Cache}
	var key string
	if _, cacheable := policy.Cacheable(); incremental != nil && cacheable {
		k, err := cache.DeriveKey(req)
		if err != nil {
			return nil, &SerializationError{Op: "derive cache key", URL: req.URL.String(), Err: err}
		}
		key = k

		// Step 4: Serve from cache
		if resp, ok := c.fromCache(ctx, store, req, key, revalidate); ok {
			return resp, nil
		}
	}

	// Step 5: Static generation bails out on uncacheable data
	if store.IsStaticGeneration() {
		if policy.Mode == cache.ModeNoStore {
			fetchRequestsTotal.WithLabelValues("dynamic").Inc()
			return nil, store.MarkDynamic(dynamicReason("no-store fetch", req, store))
		}
		if hasRevalidate && revalidate == 0 && !store.ForceDynamic() {
			fetchRequestsTotal.WithLabelValues("dynamic").Inc()
			return nil, store.MarkDynamic(dynamicReason("revalidate: 0 fetch", req, store))
		}
	}

	// Step 6: Real network call
	if key == "" {
		fetchRequestsTotal.WithLabelValues("uncached").Inc()
	} else {
		fetchRequestsTotal.WithLabelValues("miss").Inc()
	}
	return c.fetchAndCache(req, incremental, key, revalidate, "foreground")
}

// fromCache returns a response reconstructed from the cache. It returns
// false when the caller must go to the network: no entry, an undecodable
// entry, or a stale entry during a revalidation pass.
func (c *Client) fromCache(ctx context.Context, store *render.Store, req *http.Request, key string, revalidate int) (*http.Response, bool) {
	incremental := store.Cache()

	entry, err := incremental.Get(ctx, key, true)
	if err != nil || entry.Value == nil || entry.Value.Kind != cache.KindFetch {
		return nil, false
	}

	stale := entry.IsStale(incremental.Now(), revalidate)

	// A revalidation pass waits for fresh data so the regenerated page
	// carries it
	if stale && store.IsRevalidate() {
		c.logger.Debug().
			Str("key", key).
			Str("url", req.URL.String()).
			Msg("Stale entry during revalidation, fetching fresh data")
		return nil, false
	}

	resp, err := cache.ValueToResponse(entry.Value, req)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to decode cached response")
		return nil, false
	}

	if stale {
		fetchRequestsTotal.WithLabelValues("stale").Inc()
		c.revalidateInBackground(ctx, store, req, key, revalidate)
	} else {
		fetchRequestsTotal.WithLabelValues("hit").Inc()
	}

	c.logger.Debug().
		Str("key", key).
		Str("url", req.URL.String()).
		Bool("stale", stale).
		Int("revalidate", revalidate).
		Msg("Serving fetch from cache")

	return resp, true
}

// revalidateInBackground refetches req without blocking the render. The
// task is tracked by the render store; its errors are logged only.
func (c *Client) revalidateInBackground(ctx context.Context, store *render.Store, req *http.Request, key string, revalidate int) {
	incremental := store.Cache()

	store.Go(ctx, func(bg context.Context) {
		bgReq := req.Clone(bg)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				backgroundRevalidationsTotal.WithLabelValues("error").Inc()
				c.logger.Warn().Err(err).Str("key", key).Msg("Background revalidation failed")
				return
			}
			bgReq.Body = body
		}

		resp, err := c.fetchAndCache(bgReq, incremental, key, revalidate, "background")
		if err != nil {
			backgroundRevalidationsTotal.WithLabelValues("error").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Background revalidation failed")
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backgroundRevalidationsTotal.WithLabelValues("ok").Inc()
		c.logger.Debug().Str("key", key).Msg("Background revalidation complete")
	})
}

// fetchAndCache performs the upstream request and, when key is set,
// persists the response before returning it with its body intact.
func (c *Client) fetchAndCache(req *http.Request, incremental *cache.Store, key string, revalidate int, mode string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.upstream.Do(req)
	fetchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if incremental == nil || key == "" || revalidate <= 0 {
		return resp, nil
	}

	value, err := cache.ResponseToValue(resp, revalidate)
	if err != nil {
		resp.Body.Close()
		return nil, &SerializationError{Op: "encode response", URL: req.URL.String(), Err: err}
	}
	value.Data.URL = req.URL.String()

	incremental.Set(req.Context(), key, value, true)

	c.logger.Debug().
		Str("key", key).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Int("revalidate", revalidate).
		Msg("Cached fetch response")

	return resp, nil
}

func dynamicReason(prefix string, req *http.Request, store *render.Store) string {
	reason := prefix + " " + req.URL.String()
	if p := store.Pathname(); p != "" {
		reason += " " + p
	}
	return reason
}

// SerializationError is returned when a request cannot be keyed or its
// response cannot be encoded for the cache. It is fatal for that fetch.
type SerializationError struct {
	Op  string // "derive cache key" or "encode response"
	URL string
	Err error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s for %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsSerializationError reports whether err is a SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
