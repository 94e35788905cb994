package cache

import (
	"context"
)

// Handler is a persistence backend behind the memory layer. Implementations
// must be safe for concurrent use.
//
// Get returns ErrCacheMiss when the key is absent. Any other error is
// treated by Store as a backend failure: logged, counted and degraded to a
// miss. Set errors are handled the same way and never reach the renderer.
type Handler interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value *Value) error
}

// HandlerFuncs adapts two functions to a Handler, for callers that
// want to plug in custom storage without declaring a type.
type HandlerFuncs struct {
	GetFunc func(ctx context.Context, key string) (*Entry, error)
	SetFunc func(ctx context.Context, key string, value *Value) error
}

// Get implements Handler.
func (h HandlerFuncs) Get(ctx context.Context, key string) (*Entry, error) {
	if h.GetFunc == nil {
		return nil, ErrCacheMiss
	}
	return h.GetFunc(ctx, key)
}

// Set implements Handler.
func (h HandlerFuncs) Set(ctx context.Context, key string, value *Value) error {
	if h.SetFunc == nil {
		return nil
	}
	return h.SetFunc(ctx, key, value)
}
