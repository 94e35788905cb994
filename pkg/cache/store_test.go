package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(opts Options) *Store {
	logger := zerolog.Nop()
	opts.Logger = &logger
	return NewStore(opts)
}

func testValue(body string, revalidate int) *Value {
	return NewFetchValue(&FetchData{Headers: map[string]string{}, Body: body}, revalidate)
}

func TestStore_MemoryOnly(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(Options{MaxMemoryBytes: 1 << 20, Now: func() time.Time { return now }})
	ctx := context.Background()

	if _, err := store.Get(ctx, "k", true); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty store error = %v, want ErrCacheMiss", err)
	}

	store.Set(ctx, "k", testValue("aGk=", 30), true)

	entry, err := store.Get(ctx, "k", true)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Value.Data.Body != "aGk=" {
		t.Errorf("body = %q", entry.Value.Data.Body)
	}
	if !entry.LastModified.Equal(now) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, now)
	}
	if store.MemoryLen() != 1 || store.MemorySize() == 0 {
		t.Errorf("MemoryLen() = %d, MemorySize() = %d", store.MemoryLen(), store.MemorySize())
	}

	store.Delete("k")
	if _, err := store.Get(ctx, "k", true); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestStore_FetchCacheFlag(t *testing.T) {
	store := newTestStore(Options{MaxMemoryBytes: 1 << 20})
	ctx := context.Background()

	store.Set(ctx, "k", testValue("aGk=", 30), false)
	if store.MemoryLen() != 0 {
		t.Error("Set() with fetchCache=false stored an entry")
	}

	store.Set(ctx, "k", testValue("aGk=", 30), true)
	if _, err := store.Get(ctx, "k", false); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() with fetchCache=false error = %v, want ErrCacheMiss", err)
	}
}

func TestStore_RejectsInvalidValues(t *testing.T) {
	store := newTestStore(Options{MaxMemoryBytes: 1 << 20})
	ctx := context.Background()

	store.Set(ctx, "img", &Value{Kind: KindImage}, true)
	store.Set(ctx, "empty", &Value{Kind: KindFetch}, true)

	if store.MemoryLen() != 0 {
		t.Errorf("MemoryLen() = %d, want 0", store.MemoryLen())
	}
}

func TestStore_RemoteReadThrough(t *testing.T) {
	var gets atomic.Int32
	remote := HandlerFuncs{
		GetFunc: func(ctx context.Context, key string) (*Entry, error) {
			gets.Add(1)
			if key != "remote" {
				return nil, ErrCacheMiss
			}
			return &Entry{Value: testValue("cmVtb3Rl", 60), LastModified: time.Now()}, nil
		},
	}
	store := newTestStore(Options{MaxMemoryBytes: 1 << 20, Handler: remote})
	ctx := context.Background()

	entry, err := store.Get(ctx, "remote", true)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Value.Data.Body != "cmVtb3Rl" {
		t.Errorf("body = %q", entry.Value.Data.Body)
	}

	// Served from memory the second time
	if _, err := store.Get(ctx, "remote", true); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if got := gets.Load(); got != 1 {
		t.Errorf("remote gets = %d, want 1", got)
	}

	if _, err := store.Get(ctx, "absent", true); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get(absent) error = %v, want ErrCacheMiss", err)
	}
	if store.BackendState().ConsecutiveFailures != 0 {
		t.Error("a miss must not count as a backend failure")
	}
}

func TestStore_ConcurrentMissesShareLookup(t *testing.T) {
	var gets atomic.Int32
	release := make(chan struct{})
	remote := HandlerFuncs{
		GetFunc: func(ctx context.Context, key string) (*Entry, error) {
			gets.Add(1)
			<-release
			return &Entry{Value: testValue("c2hhcmVk", 60), LastModified: time.Now()}, nil
		},
	}
	store := newTestStore(Options{Handler: remote})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Get(context.Background(), "shared", true); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := gets.Load(); got == 0 || got >= 10 {
		t.Errorf("remote gets = %d, want concurrent misses collapsed", got)
	}
}

func TestStore_RemoteWriteIsAsync(t *testing.T) {
	var (
		mu      sync.Mutex
		written = map[string]*Value{}
	)
	release := make(chan struct{})
	remote := HandlerFuncs{
		SetFunc: func(ctx context.Context, key string, value *Value) error {
			<-release
			mu.Lock()
			defer mu.Unlock()
			written[key] = value
			return nil
		},
	}
	store := newTestStore(Options{MaxMemoryBytes: 1 << 20, Handler: remote})

	ctx, cancel := context.WithCancel(context.Background())
	store.Set(ctx, "k", testValue("aGk=", 30), true)
	// Render finished; the write must still complete
	cancel()

	if _, err := store.Get(context.Background(), "k", true); err != nil {
		t.Errorf("memory layer not written synchronously: %v", err)
	}

	close(release)
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if written["k"] == nil {
		t.Error("remote write did not complete")
	}
}

func TestStore_BackendFailuresDegradeAndGate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var (
		clockMu sync.Mutex
		gets    atomic.Int32
	)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	remote := HandlerFuncs{
		GetFunc: func(ctx context.Context, key string) (*Entry, error) {
			gets.Add(1)
			return nil, errors.New("connection refused")
		},
	}
	store := newTestStore(Options{Handler: remote, Now: clock, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < FailureThresholdCritical; i++ {
		if _, err := store.Get(ctx, "k", true); !errors.Is(err, ErrCacheMiss) {
			t.Fatalf("Get() error = %v, want ErrCacheMiss", err)
		}
	}
	if got := gets.Load(); got != FailureThresholdCritical {
		t.Fatalf("remote gets = %d, want %d", got, FailureThresholdCritical)
	}

	state := store.BackendState()
	if !state.NeedsCriticalBlock(now) {
		t.Fatalf("backend not blocked after %d failures: %+v", FailureThresholdCritical, state)
	}

	// Blocked: remote is skipped
	store.Get(ctx, "k", true)
	if got := gets.Load(); got != FailureThresholdCritical {
		t.Errorf("remote gets while blocked = %d, want %d", got, FailureThresholdCritical)
	}

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()

	store.Get(ctx, "k", true)
	if got := gets.Load(); got != FailureThresholdCritical+1 {
		t.Errorf("remote gets after cooldown = %d, want %d", got, FailureThresholdCritical+1)
	}
}

func TestStore_SharedLookupSurvivesCallerCancel(t *testing.T) {
	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	remote := HandlerFuncs{
		GetFunc: func(ctx context.Context, key string) (*Entry, error) {
			entered <- struct{}{}
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &Entry{Value: testValue("aGk=", 60), LastModified: time.Now()}, nil
		},
	}
	store := newTestStore(Options{Handler: remote})

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.Get(first, "k", true)
		firstErr <- err
	}()
	<-entered

	type result struct {
		entry *Entry
		err   error
	}
	second := make(chan result, 1)
	go func() {
		entry, err := store.Get(context.Background(), "k", true)
		second <- result{entry, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("cancelled Get() error = %v, want ErrCacheMiss", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Get() did not return")
	}

	close(release)
	res := <-second
	if res.err != nil {
		t.Fatalf("live Get() error = %v, want hit", res.err)
	}
	if res.entry.Value.Data.Body != "aGk=" {
		t.Errorf("body = %q", res.entry.Value.Data.Body)
	}
	if got := store.BackendState().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", got)
	}
}

func TestStore_InvalidRemoteEntryIsMiss(t *testing.T) {
	remote := HandlerFuncs{
		GetFunc: func(ctx context.Context, key string) (*Entry, error) {
			return &Entry{Value: &Value{Kind: KindPage, HTML: "<p>"}}, nil
		},
	}
	store := newTestStore(Options{Handler: remote})

	if _, err := store.Get(context.Background(), "k", true); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
	if store.BackendState().ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", store.BackendState().ConsecutiveFailures)
	}
}

func TestStore_FlushHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	remote := HandlerFuncs{
		SetFunc: func(ctx context.Context, key string, value *Value) error {
			<-release
			return nil
		},
	}
	store := newTestStore(Options{Handler: remote})
	store.Set(context.Background(), "k", testValue("aGk=", 30), true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := store.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush() error = %v, want deadline exceeded", err)
	}
}
