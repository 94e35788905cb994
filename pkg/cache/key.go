package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// keyVersion is mixed into every key so a change to the derivation
// invalidates previously stored entries instead of colliding with them.
const keyVersion = "v2"

// volatileHeaders never contribute to a cache key: they differ on every
// request without changing the response.
var volatileHeaders = map[string]bool{
	"traceparent":  true,
	"tracestate":   true,
	"x-request-id": true,
	"date":         true,
}

// DeriveKey generates a deterministic cache key for a data-fetch request.
// The key is the hex SHA-256 of a canonical JSON array of
// version, method, normalized URL, sorted header pairs and body. Header
// values and the body are encoded as raw bytes (base64 in JSON) so invalid
// UTF-8 never collapses to the replacement character.
//
// The request body is read through GetBody when available, otherwise it is
// read and restored so the caller still sees the full body.
func DeriveKey(req *http.Request) (string, error) {
	if req == nil || req.URL == nil {
		return "", fmt.Errorf("derive cache key: request and URL are required")
	}

	body, err := peekBody(req)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	parts := []any{
		keyVersion,
		method,
		NormalizeURL(req.URL),
		headerPairs(req.Header),
		body,
	}

	canonical, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeURL returns a canonical form of u: lower-case scheme and host,
// no fragment, query parameters sorted by key. A query that does not parse
// is kept verbatim.
func NormalizeURL(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	n.Fragment = ""
	n.RawFragment = ""
	if n.RawQuery != "" {
		if query, err := url.ParseQuery(n.RawQuery); err == nil {
			n.RawQuery = query.Encode()
		}
	}
	if n.Path == "" && n.Host != "" {
		n.Path = "/"
	}
	return n.String()
}

// headerPair is one header with each of its values kept separate.
type headerPair struct {
	Name   string   `json:"n"`
	Values [][]byte `json:"v"`
}

// headerPairs flattens headers into pairs sorted by lower-case name.
func headerPairs(h http.Header) []headerPair {
	names := make([]string, 0, len(h))
	for name := range h {
		lower := strings.ToLower(name)
		if volatileHeaders[lower] {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := strings.ToLower(names[i]), strings.ToLower(names[j])
		if li != lj {
			return li < lj
		}
		return names[i] < names[j]
	})

	pairs := make([]headerPair, 0, len(names))
	for _, name := range names {
		values := h[name]
		pair := headerPair{Name: strings.ToLower(name), Values: make([][]byte, len(values))}
		for i, v := range values {
			pair.Values[i] = []byte(v)
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// peekBody returns the request body without consuming it.
func peekBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("get request body: %w", err)
		}
		defer rc.Close()
		body, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return body, nil
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.Body.Close()

	// Restore body for the real request
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}
