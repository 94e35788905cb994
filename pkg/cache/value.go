package cache

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies which variant of Value is populated.
type Kind string

const (
	// KindFetch is a cached upstream data-fetch response.
	KindFetch Kind = "FETCH"

	// KindRoute is a cached route handler output.
	KindRoute Kind = "ROUTE"

	// KindPage is a cached rendered page (HTML plus page data).
	KindPage Kind = "PAGE"

	// KindRedirect is a cached redirect.
	KindRedirect Kind = "REDIRECT"

	// KindImage is an optimized image. It never lives in the incremental cache.
	KindImage Kind = "IMAGE"
)

// ErrImageValue is returned when an IMAGE value reaches the incremental cache.
var ErrImageValue = errors.New("invariant: image values must not be stored in the incremental cache")

// FetchData is the persisted form of an upstream response.
type FetchData struct {
	// Headers are the response headers, one value per name.
	Headers map[string]string `json:"headers"`

	// Body is the base64 encoded response body.
	Body string `json:"body"`

	// Status is the HTTP status code. Zero is read back as 200.
	Status int `json:"status,omitempty"`

	// URL is the request URL the response was fetched from.
	URL string `json:"url,omitempty"`
}

// Value is a tagged union over the cacheable kinds. Only the fields
// belonging to Kind are meaningful.
type Value struct {
	Kind Kind `json:"kind"`

	// Data is set for KindFetch.
	Data *FetchData `json:"data,omitempty"`

	// HTML and PageData are set for KindPage and KindRoute.
	HTML     string          `json:"html,omitempty"`
	PageData json.RawMessage `json:"pageData,omitempty"`

	// Props is set for KindRedirect.
	Props json.RawMessage `json:"props,omitempty"`

	// Revalidate is the declared revalidate window in seconds. A "cache
	// forever" request is stored as CacheOneYear, never as false.
	Revalidate int `json:"revalidate,omitempty"`
}

// NewFetchValue builds a FETCH value.
func NewFetchValue(data *FetchData, revalidate int) *Value {
	return &Value{
		Kind:       KindFetch,
		Data:       data,
		Revalidate: revalidate,
	}
}

// Validate checks the value is well formed for its kind.
func (v *Value) Validate() error {
	if v == nil {
		return fmt.Errorf("cache value cannot be nil")
	}
	switch v.Kind {
	case KindFetch:
		if v.Data == nil {
			return fmt.Errorf("%w: fetch value without data", ErrInvalidEntry)
		}
	case KindPage, KindRoute, KindRedirect:
	case KindImage:
		return ErrImageValue
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, v.Kind)
	}
	if v.Revalidate < 0 {
		return fmt.Errorf("%w: negative revalidate %d", ErrInvalidEntry, v.Revalidate)
	}
	return nil
}

// fixedEntryCost is the estimated size of nil and REDIRECT values.
const fixedEntryCost = 25

// estimateSize approximates the memory cost of a value. It is used for
// byte-bounded eviction, so it only needs to be proportional.
func estimateSize(v *Value) (int, error) {
	if v == nil {
		return fixedEntryCost, nil
	}
	switch v.Kind {
	case KindRedirect:
		return fixedEntryCost, nil
	case KindImage:
		return 0, ErrImageValue
	case KindFetch:
		if v.Data == nil {
			return len(`""`), nil
		}
		b, err := json.Marshal(v.Data)
		if err != nil {
			return 0, fmt.Errorf("estimate fetch value size: %w", err)
		}
		return len(b), nil
	default:
		return len(v.HTML) + len(v.PageData), nil
	}
}
