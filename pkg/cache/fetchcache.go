package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/rendercache/pkg/logging"
	"github.com/rs/zerolog"
)

const (
	getItemsPath = "/v1/suspense-cache/getItems"
	setItemsPath = "/v1/suspense-cache/setItems"

	// maxErrorBody bounds how much of a failed backend response is logged.
	maxErrorBody = 4 << 10
)

// FetchCacheConfig configures the HTTP fetch-cache backend.
type FetchCacheConfig struct {
	// Endpoint is the backend base URL, e.g. "https://cache.example.com/base".
	Endpoint string

	// Headers are sent with every backend request (auth tokens etc).
	Headers map[string]string

	// HTTPClient performs backend calls (default: 10s timeout client).
	HTTPClient *http.Client

	// Retry configures write retries. Reads are never retried.
	Retry RetryConfig

	// Now is the clock used to turn item ages into timestamps.
	Now func() time.Time

	// Logger receives backend diagnostics.
	Logger *zerolog.Logger
}

// RemoteItem is one item of a getItems response.
type RemoteItem struct {
	// Value is the JSON encoded cache Value.
	Value string `json:"value"`

	// Age is the item's age in seconds.
	Age float64 `json:"age"`
}

// RemoteSetItem is one item of a setItems request.
type RemoteSetItem struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// FetchCacheHandler talks to a remote cache over the getItems/setItems
// HTTP contract.
type FetchCacheHandler struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	retry    RetryConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewFetchCacheHandler creates a handler for the given endpoint.
func NewFetchCacheHandler(cfg FetchCacheConfig) (*FetchCacheHandler, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("fetch cache endpoint is required")
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("fetch cache endpoint must be an http(s) URL (got %q)", cfg.Endpoint)
	}

	h := &FetchCacheHandler{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		headers:  map[string]string{"Content-Type": "application/json"},
		client:   cfg.HTTPClient,
		retry:    cfg.Retry,
		now:      cfg.Now,
	}
	for k, v := range cfg.Headers {
		h.headers[k] = v
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 10 * time.Second}
	}
	if h.retry.MaxAttempts == 0 {
		h.retry = DefaultRetryConfig()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if cfg.Logger != nil {
		h.logger = *cfg.Logger
	} else {
		h.logger = logging.NewCacheLogger("fetch-cache")
	}

	h.logger.Debug().Str("endpoint", h.endpoint).Msg("Using cache endpoint")
	return h, nil
}

// ParseHeaderBlob decodes a JSON object of extra backend headers, the form
// in which deployments usually hand them over.
func ParseHeaderBlob(blob string) (map[string]string, error) {
	if strings.TrimSpace(blob) == "" {
		return nil, nil
	}
	headers := make(map[string]string)
	if err := json.Unmarshal([]byte(blob), &headers); err != nil {
		return nil, fmt.Errorf("parse cache headers: %w", err)
	}
	return headers, nil
}

// Get fetches key from the backend. Only FETCH values are accepted.
func (h *FetchCacheHandler) Get(ctx context.Context, key string) (*Entry, error) {
	start := time.Now()

	payload, err := json.Marshal([]string{key})
	if err != nil {
		return nil, fmt.Errorf("marshal getItems body: %w", err)
	}

	respBody, err := h.post(ctx, "get", getItemsPath, payload)
	if err != nil {
		return nil, err
	}

	var items map[string]RemoteItem
	if err := json.Unmarshal(respBody, &items); err != nil {
		return nil, fmt.Errorf("%w: decode getItems response: %v", ErrInvalidEntry, err)
	}

	item, ok := items[key]
	if !ok || item.Value == "" {
		return nil, ErrCacheMiss
	}

	var value Value
	if err := json.Unmarshal([]byte(item.Value), &value); err != nil {
		return nil, fmt.Errorf("%w: decode cached value: %v", ErrInvalidEntry, err)
	}
	if value.Kind != KindFetch {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrInvalidEntry, value.Kind)
	}

	entry := &Entry{
		Value:        &value,
		LastModified: h.now().Add(-time.Duration(item.Age * float64(time.Second))),
	}

	h.logger.Debug().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Int("size", len(item.Value)).
		Msg("Got fetch cache entry")

	return entry, nil
}

// Set stores value under key, retrying server and network failures.
func (h *FetchCacheHandler) Set(ctx context.Context, key string, value *Value) error {
	start := time.Now()

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	payload, err := json.Marshal([]RemoteSetItem{{ID: key, Value: string(encoded)}})
	if err != nil {
		return fmt.Errorf("marshal setItems body: %w", err)
	}

	err = retryWithBackoff(ctx, h.retry, h.logger, func() error {
		_, err := h.post(ctx, "set", setItemsPath, payload)
		return err
	})
	if err != nil {
		return err
	}

	h.logger.Debug().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Int("size", len(payload)).
		Msg("Successfully set fetch cache entry")
	return nil
}

func (h *FetchCacheHandler) post(ctx context.Context, op, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &BackendError{
			Operation:  op,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response",
			Err:        err,
		}
	}

	if class := classifyStatus(resp.StatusCode); class != "" {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &BackendError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
