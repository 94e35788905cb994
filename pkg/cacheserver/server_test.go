package cacheserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/rendercache/pkg/cache"
	"github.com/rs/zerolog"
)

// newTestSQLite opens an isolated in-memory database per test.
func newTestSQLite(t *testing.T) *SQLiteItemStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := NewSQLiteItemStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("NewSQLiteItemStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T, store ItemStore, token string, now func() time.Time) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	srv, err := New(Config{Store: store, Token: token, Now: now, Logger: &logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return resp
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without store")
	}
}

func TestServer_SetThenGetItems(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ts := newTestServer(t, newTestSQLite(t), "", clock)

	resp := post(t, ts.URL+SetItemsPath, "", `[{"id":"a","value":"{\"kind\":\"FETCH\"}"},{"id":"b","value":"two"}]`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setItems status = %d", resp.StatusCode)
	}

	now = now.Add(7 * time.Second)

	resp = post(t, ts.URL+GetItemsPath, "", `["a","b","missing"]`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("getItems status = %d", resp.StatusCode)
	}

	var items map[string]getItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %v, want a and b", items)
	}
	if items["a"].Value != `{"kind":"FETCH"}` {
		t.Errorf("a = %q", items["a"].Value)
	}
	if items["b"].Age != 7 {
		t.Errorf("b age = %v, want 7", items["b"].Age)
	}
	if _, ok := items["missing"]; ok {
		t.Error("missing key present in response")
	}
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t, newTestSQLite(t), "secret", nil)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "guess", http.StatusUnauthorized},
		{"valid token", "secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+GetItemsPath, tt.token, `["a"]`)
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}

	// Health stays open without a token
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_BadRequests(t *testing.T) {
	ts := newTestServer(t, newTestSQLite(t), "", nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"getItems not json", GetItemsPath, "keys please"},
		{"getItems wrong shape", GetItemsPath, `{"a":1}`},
		{"setItems missing id", SetItemsPath, `[{"value":"x"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+tt.path, "", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) GetItems(context.Context, []string) (map[string]Item, error) {
	return nil, errors.New("disk on fire")
}
func (failingStore) SetItems(context.Context, map[string]Item) error { return errors.New("disk on fire") }
func (failingStore) Ping(context.Context) error                      { return errors.New("disk on fire") }
func (failingStore) Close() error                                    { return nil }

func TestServer_StoreFailures(t *testing.T) {
	ts := newTestServer(t, failingStore{}, "", nil)

	resp := post(t, ts.URL+GetItemsPath, "", `["a"]`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("getItems status = %d, want 500", resp.StatusCode)
	}

	resp = post(t, ts.URL+SetItemsPath, "", `[{"id":"a","value":"x"}]`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("setItems status = %d, want 500", resp.StatusCode)
	}

	health, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", health.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, newTestSQLite(t), "", nil)

	resp := post(t, ts.URL+GetItemsPath, "", `["a"]`)
	resp.Body.Close()

	metrics, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer metrics.Body.Close()
	body, _ := io.ReadAll(metrics.Body)

	if !strings.Contains(string(body), "rendercache_server_requests_total") {
		t.Error("metrics output lacks rendercache_server_requests_total")
	}
}

func TestServer_WithFetchCacheHandler(t *testing.T) {
	ts := newTestServer(t, newTestSQLite(t), "secret", nil)

	logger := zerolog.Nop()
	handler, err := cache.NewFetchCacheHandler(cache.FetchCacheConfig{
		Endpoint: ts.URL,
		Headers:  map[string]string{"Authorization": "Bearer secret"},
		Logger:   &logger,
	})
	if err != nil {
		t.Fatalf("NewFetchCacheHandler() error = %v", err)
	}

	ctx := context.Background()
	if _, err := handler.Get(ctx, "k"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("Get() before Set error = %v, want ErrCacheMiss", err)
	}

	value := cache.NewFetchValue(&cache.FetchData{Headers: map[string]string{"Content-Type": "text/plain"}, Body: "aGk=", Status: 200}, 30)
	if err := handler.Set(ctx, "k", value); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, err := handler.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Value.Data.Body != "aGk=" || entry.Value.Revalidate != 30 {
		t.Errorf("entry value = %+v", entry.Value)
	}
	if entry.IsStale(time.Now(), 30) {
		t.Error("freshly written entry reported stale")
	}
}
