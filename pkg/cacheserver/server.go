package cacheserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/rendercache/pkg/logging"
	"github.com/Sternrassler/rendercache/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	// GetItemsPath and SetItemsPath are the remote cache contract routes.
	GetItemsPath = "/v1/suspense-cache/getItems"
	SetItemsPath = "/v1/suspense-cache/setItems"

	// DefaultMaxBodyBytes bounds request bodies.
	DefaultMaxBodyBytes = 16 << 20
)

var (
	serverRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_server_requests_total",
		Help: "Total cache server requests by route and status",
	}, []string{"route", "status"})

	serverRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rendercache_server_request_duration_seconds",
		Help:    "Cache server request duration in seconds by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	serverItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_server_items_total",
		Help: "Total items served or stored by result",
	}, []string{"result"}) // "hit", "miss", "stored"
)

// Config holds server configuration.
type Config struct {
	// Store persists items. Required.
	Store ItemStore

	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string

	// MaxBodyBytes bounds request bodies (default DefaultMaxBodyBytes).
	MaxBodyBytes int64

	// Now is the clock used for item ages.
	Now func() time.Time

	// Logger receives request logs (default: component logger "cache-server").
	Logger *zerolog.Logger
}

// Server is the remote cache HTTP server.
type Server struct {
	store   ItemStore
	token   string
	maxBody int64
	now     func() time.Time
	logger  zerolog.Logger
	router  chi.Router
}

// getItem is one entry of a getItems response.
type getItem struct {
	Value string  `json:"value"`
	Age   float64 `json:"age"`
}

// setItem is one entry of a setItems request.
type setItem struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("item store is required")
	}

	s := &Server{
		store:   cfg.Store,
		token:   cfg.Token,
		maxBody: cfg.MaxBodyBytes,
		now:     cfg.Now,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	} else {
		s.logger = logging.NewLogger("cache-server")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post(GetItemsPath, s.handleGetItems)
		r.Post(SetItemsPath, s.handleSetItems)
	})

	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleGetItems(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if !s.decode(w, r, &keys) {
		return
	}

	items, err := s.store.GetItems(r.Context(), keys)
	if err != nil {
		s.logger.Error().Err(err).Int("keys", len(keys)).Msg("Failed to get items")
		http.Error(w, "failed to get items", http.StatusInternalServerError)
		return
	}

	now := s.now()
	out := make(map[string]getItem, len(items))
	for key, item := range items {
		age := now.Sub(item.Written).Seconds()
		if age < 0 {
			age = 0
		}
		out[key] = getItem{Value: item.Value, Age: age}
	}
	serverItemsTotal.WithLabelValues("hit").Add(float64(len(out)))
	serverItemsTotal.WithLabelValues("miss").Add(float64(len(keys) - len(out)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write getItems response")
	}
}

func (s *Server) handleSetItems(w http.ResponseWriter, r *http.Request) {
	var req []setItem
	if !s.decode(w, r, &req) {
		return
	}

	now := s.now()
	items := make(map[string]Item, len(req))
	for _, item := range req {
		if item.ID == "" {
			http.Error(w, "item id is required", http.StatusBadRequest)
			return
		}
		items[item.ID] = Item{Value: item.Value, Written: now}
	}

	if err := s.store.SetItems(r.Context(), items); err != nil {
		s.logger.Error().Err(err).Int("items", len(items)).Msg("Failed to set items")
		http.Error(w, "failed to set items", http.StatusInternalServerError)
		return
	}
	serverItemsTotal.WithLabelValues("stored").Add(float64(len(items)))

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			want := "Bearer " + s.token
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		serverRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		serverRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
