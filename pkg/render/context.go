package render

import (
	"context"
)

type storeKey struct{}

// WithStore returns a context carrying s. Everything rendered under the
// returned context belongs to that attempt.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

// FromContext returns the render store in ctx, or nil outside any render.
func FromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(storeKey{}).(*Store)
	return s
}

// BailoutToClientRendering is called by components that can only render on
// the client. It returns true when the route forces static output (the
// component renders its fallback), and the client bailout signal during
// static generation.
func BailoutToClientRendering(ctx context.Context) (bool, error) {
	s := FromContext(ctx)
	if s == nil {
		return false, nil
	}
	if s.ForceStatic() {
		return true, nil
	}
	if s.IsStaticGeneration() {
		return false, &ClientBailoutError{}
	}
	return false, nil
}
