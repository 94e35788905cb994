package cache

import (
	"time"
)

// Entry is a cached value with the time it was written. Entries are
// replaced as a whole and never patched in place.
type Entry struct {
	// Value is the cached payload.
	Value *Value `json:"value"`

	// LastModified is when the value was produced.
	LastModified time.Time `json:"lastModified"`
}

// IsStale reports whether the entry is older than revalidate seconds at now.
// A non-positive revalidate falls back to the value's own declared window.
func (e *Entry) IsStale(now time.Time, revalidate int) bool {
	if e == nil {
		return true
	}
	if revalidate <= 0 && e.Value != nil {
		revalidate = e.Value.Revalidate
	}
	if revalidate <= 0 {
		return true
	}
	return now.Sub(e.LastModified) > time.Duration(revalidate)*time.Second
}

// Age returns how long ago the entry was written. Returns 0 for entries
// from the future (clock skew between writers).
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.LastModified)
	if age < 0 {
		return 0
	}
	return age
}
