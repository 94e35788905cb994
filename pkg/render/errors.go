package render

import (
	"errors"
	"fmt"
	"strings"
)

// Digest tags. Control-flow errors are recognised by these values, never by
// their concrete type, so wrapped or re-created errors still classify.
const (
	DigestDynamicUsage = "DYNAMIC_SERVER_USAGE"
	DigestNotFound     = "NEXT_NOT_FOUND"
	DigestNoSSR        = "DYNAMIC_NO_SSR"
	digestRedirect     = "NEXT_REDIRECT"
)

// digester is implemented by expected control-flow errors.
type digester interface {
	Digest() string
}

// DynamicUsageError aborts a static generation attempt because the render
// touched data that cannot be statically cached.
type DynamicUsageError struct {
	Reason string
	Stack  string
}

// Error implements the error interface.
func (e *DynamicUsageError) Error() string {
	return "Dynamic server usage: " + e.Reason
}

// Digest implements digester.
func (e *DynamicUsageError) Digest() string {
	return DigestDynamicUsage
}

// NotFoundError signals that the route renders a not-found page.
type NotFoundError struct{}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return "not found"
}

// Digest implements digester.
func (e *NotFoundError) Digest() string {
	return DigestNotFound
}

// RedirectError signals that the route redirects elsewhere.
type RedirectError struct {
	URL       string
	Permanent bool
}

// Error implements the error interface.
func (e *RedirectError) Error() string {
	return "redirect to " + e.URL
}

// Digest implements digester. Format: NEXT_REDIRECT;<temporary|permanent>;<url>.
func (e *RedirectError) Digest() string {
	kind := "temporary"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s;%s;%s", digestRedirect, kind, e.URL)
}

// ClientBailoutError signals that part of the tree must render on the
// client only, so the page cannot be fully generated ahead of time.
type ClientBailoutError struct{}

// Error implements the error interface.
func (e *ClientBailoutError) Error() string {
	return "bail out to client-side rendering"
}

// Digest implements digester.
func (e *ClientBailoutError) Digest() string {
	return DigestNoSSR
}

// NotFound returns the not-found control-flow error.
func NotFound() error {
	return &NotFoundError{}
}

// Redirect returns the redirect control-flow error.
func Redirect(url string, permanent bool) error {
	return &RedirectError{URL: url, Permanent: permanent}
}

// DigestOf returns the control-flow digest carried by err, or "".
func DigestOf(err error) string {
	var d digester
	if errors.As(err, &d) {
		return d.Digest()
	}
	return ""
}

// IsDynamicUsageError reports whether err is the dynamic-usage signal.
func IsDynamicUsageError(err error) bool {
	return DigestOf(err) == DigestDynamicUsage
}

// IsNotFoundError reports whether err is the not-found signal.
func IsNotFoundError(err error) bool {
	return DigestOf(err) == DigestNotFound
}

// IsRedirectError reports whether err is a redirect signal.
func IsRedirectError(err error) bool {
	return strings.HasPrefix(DigestOf(err), digestRedirect+";")
}

// IsExpectedControlFlow reports whether err short-circuits static
// generation without being a build failure.
func IsExpectedControlFlow(err error) bool {
	switch d := DigestOf(err); {
	case d == DigestDynamicUsage, d == DigestNotFound, d == DigestNoSSR:
		return true
	default:
		return strings.HasPrefix(d, digestRedirect+";")
	}
}
