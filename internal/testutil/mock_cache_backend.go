package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockCacheBackend is an in-memory remote cache speaking the
// getItems/setItems contract. Values are kept as the opaque strings the
// client sends.
type MockCacheBackend struct {
	server *httptest.Server

	mu         sync.Mutex
	items      map[string]mockItem
	failStatus int
	getCount   int
	setCount   int
	lastHeader http.Header
}

type mockItem struct {
	value   string
	written time.Time
}

// NewMockCacheBackend starts a mock remote cache.
func NewMockCacheBackend() *MockCacheBackend {
	m := &MockCacheBackend{items: make(map[string]mockItem)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/suspense-cache/getItems", m.handleGetItems)
	mux.HandleFunc("/v1/suspense-cache/setItems", m.handleSetItems)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the backend base URL.
func (m *MockCacheBackend) URL() string {
	return m.server.URL
}

// Close shuts down the backend.
func (m *MockCacheBackend) Close() {
	m.server.Close()
}

// FailWith makes every call answer with status. Zero restores normal
// operation.
func (m *MockCacheBackend) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// Put stores a raw item written age ago.
func (m *MockCacheBackend) Put(key, value string, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{value: value, written: time.Now().Add(-age)}
}

// Item returns the raw value stored under key.
func (m *MockCacheBackend) Item(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	return item.value, ok
}

// Len returns the number of stored items.
func (m *MockCacheBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// GetCount returns the number of getItems calls.
func (m *MockCacheBackend) GetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCount
}

// SetCount returns the number of setItems calls.
func (m *MockCacheBackend) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCount
}

// LastHeader returns the headers of the most recent call.
func (m *MockCacheBackend) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

func (m *MockCacheBackend) handleGetItems(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.getCount++
	m.lastHeader = r.Header.Clone()
	fail := m.failStatus
	m.mu.Unlock()

	if fail != 0 {
		http.Error(w, "backend unavailable", fail)
		return
	}

	var keys []string
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type item struct {
		Value string  `json:"value"`
		Age   float64 `json:"age"`
	}
	out := make(map[string]item, len(keys))

	m.mu.Lock()
	for _, key := range keys {
		if stored, ok := m.items[key]; ok {
			out[key] = item{Value: stored.value, Age: time.Since(stored.written).Seconds()}
		}
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (m *MockCacheBackend) handleSetItems(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.setCount++
	m.lastHeader = r.Header.Clone()
	fail := m.failStatus
	m.mu.Unlock()

	if fail != 0 {
		http.Error(w, "backend unavailable", fail)
		return
	}

	var items []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	for _, item := range items {
		m.items[item.ID] = mockItem{value: item.Value, written: time.Now()}
	}
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}
