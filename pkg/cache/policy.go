package cache

import (
	"fmt"
	"strings"
)

// CacheOneYear is the revalidate window, in seconds, used for fetches that
// ask to be cached until explicit invalidation.
const CacheOneYear = 31536000

// Revalidate is the per-fetch revalidate hint. The zero value means the
// fetch declared nothing.
type Revalidate struct {
	seconds int
	set     bool
	forever bool
}

// RevalidateAfter returns a hint to revalidate after the given number of
// seconds. Zero means the response must never be statically cached.
func RevalidateAfter(seconds int) Revalidate {
	if seconds < 0 {
		seconds = 0
	}
	return Revalidate{seconds: seconds, set: true}
}

// RevalidateNever returns the "revalidate: false" hint: cache until
// explicitly invalidated.
func RevalidateNever() Revalidate {
	return Revalidate{set: true, forever: true}
}

// IsSet reports whether the fetch declared a revalidate hint.
func (r Revalidate) IsSet() bool {
	return r.set
}

// IsForever reports whether the hint was "revalidate: false".
func (r Revalidate) IsForever() bool {
	return r.forever
}

// Seconds resolves the hint to a window in seconds. "Forever" resolves to
// CacheOneYear. The boolean is false when no hint was declared.
func (r Revalidate) Seconds() (int, bool) {
	if !r.set {
		return 0, false
	}
	if r.forever {
		return CacheOneYear, true
	}
	return r.seconds, true
}

// String implements fmt.Stringer.
func (r Revalidate) String() string {
	switch {
	case !r.set:
		return "unset"
	case r.forever:
		return "false"
	default:
		return fmt.Sprintf("%d", r.seconds)
	}
}

// Mode is the request cache mode, mirroring the fetch "cache" option.
type Mode string

const (
	ModeDefault      Mode = ""
	ModeNoStore      Mode = "no-store"
	ModeReload       Mode = "reload"
	ModeNoCache      Mode = "no-cache"
	ModeForceCache   Mode = "force-cache"
	ModeOnlyIfCached Mode = "only-if-cached"
)

// ParseMode parses a cache mode string. "default" and the empty string
// both map to ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDefault, "default":
		return ModeDefault, nil
	case ModeNoStore, ModeReload, ModeNoCache, ModeForceCache, ModeOnlyIfCached:
		return m, nil
	default:
		return ModeDefault, fmt.Errorf("unknown cache mode %q", s)
	}
}

// Policy is the caching policy attached to a single fetch.
type Policy struct {
	// Revalidate is the declared revalidate hint.
	Revalidate Revalidate

	// Mode is the request cache mode.
	Mode Mode
}

// Cacheable reports whether a response fetched under this policy may be
// stored, and the window to store it with.
func (p Policy) Cacheable() (int, bool) {
	seconds, ok := p.Revalidate.Seconds()
	if !ok || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}
