// Package cacheserver serves the remote fetch cache contract used by
// cache.FetchCacheHandler: POST /v1/suspense-cache/getItems and
// POST /v1/suspense-cache/setItems, backed by Redis or SQLite.
package cacheserver

import (
	"context"
	"time"
)

// Item is a stored cache item. Value is opaque to the server.
type Item struct {
	Value   string
	Written time.Time
}

// ItemStore persists items for the server. Implementations must be safe
// for concurrent use.
type ItemStore interface {
	// GetItems returns the items found for keys. Missing keys are absent
	// from the map.
	GetItems(ctx context.Context, keys []string) (map[string]Item, error)

	// SetItems stores items, replacing existing ones.
	SetItems(ctx context.Context, items map[string]Item) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
