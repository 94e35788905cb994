// Package render holds the per-attempt render state: the minimum revalidate
// window, dynamic-usage bailouts and background revalidation tasks.
package render

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/Sternrassler/rendercache/internal/tasks"
	"github.com/Sternrassler/rendercache/pkg/cache"
)

// Options are the inputs the orchestrator sets before a render attempt.
type Options struct {
	// IsStaticGeneration is set when the attempt tries to produce a
	// statically cacheable page.
	IsStaticGeneration bool

	// IsRevalidate is set for background revalidation passes, which wait
	// for fresh data instead of serving stale entries.
	IsRevalidate bool

	// ForceDynamic suppresses the revalidate-0 bailout.
	ForceDynamic bool

	// ForceStatic makes client-rendering bailouts a no-op.
	ForceStatic bool

	// Pathname is the route being rendered, used in bailout reasons.
	Pathname string

	// Cache is the shared incremental cache. Nil disables fetch caching.
	Cache *cache.Store
}

// Store is the mutable state of exactly one render attempt. It is never
// shared between attempts. Mutation is serialized so goroutines spawned by
// the render may fetch concurrently.
type Store struct {
	opts Options

	mu            sync.Mutex
	minRevalidate int
	hasRevalidate bool
	dynamicReason string
	dynamicStack  string

	pending tasks.Group
}

// NewStore creates the store for a render attempt.
func NewStore(opts Options) *Store {
	return &Store{opts: opts}
}

// IsStaticGeneration reports whether the attempt is generating static output.
func (s *Store) IsStaticGeneration() bool { return s.opts.IsStaticGeneration }

// IsRevalidate reports whether the attempt is a background revalidation pass.
func (s *Store) IsRevalidate() bool { return s.opts.IsRevalidate }

// ForceDynamic reports whether the route forces dynamic rendering.
func (s *Store) ForceDynamic() bool { return s.opts.ForceDynamic }

// ForceStatic reports whether the route forces static rendering.
func (s *Store) ForceStatic() bool { return s.opts.ForceStatic }

// Pathname returns the route being rendered.
func (s *Store) Pathname() string { return s.opts.Pathname }

// Cache returns the incremental cache, or nil.
func (s *Store) Cache() *cache.Store { return s.opts.Cache }

// ObserveRevalidate tightens the minimum revalidate window. It only ever
// decreases.
func (s *Store) ObserveRevalidate(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRevalidate || seconds < s.minRevalidate {
		s.minRevalidate = seconds
		s.hasRevalidate = true
	}
}

// MinRevalidate returns the smallest revalidate window observed. The
// boolean is false if no fetch declared one.
func (s *Store) MinRevalidate() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minRevalidate, s.hasRevalidate
}

// MarkDynamic records the dynamic usage on the store, forces the minimum
// revalidate window to zero and returns the signal to abort the render with.
func (s *Store) MarkDynamic(reason string) *DynamicUsageError {
	err := &DynamicUsageError{Reason: reason, Stack: string(debug.Stack())}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.minRevalidate = 0
	s.hasRevalidate = true
	s.dynamicReason = reason
	s.dynamicStack = err.Stack
	return err
}

// DynamicUsage returns the recorded bailout description and stack.
func (s *Store) DynamicUsage() (description, stack string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dynamicReason, s.dynamicStack
}

// Go runs fn in the background and tracks it until Drain. The task's
// context is detached from ctx's cancellation: aborting the render does not
// abort its background revalidations.
func (s *Store) Go(ctx context.Context, fn func(ctx context.Context)) {
	bg := context.WithoutCancel(ctx)
	s.pending.Go(func() { fn(bg) })
}

// Scheduled returns how many background tasks were started.
func (s *Store) Scheduled() int {
	return s.pending.Started()
}

// Drain waits for all background tasks, including ones started while it
// waits, or ctx cancellation.
func (s *Store) Drain(ctx context.Context) error {
	return s.pending.Wait(ctx)
}
