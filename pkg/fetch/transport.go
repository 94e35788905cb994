package fetch

import (
	"context"
	"net/http"
)

type optionsKey struct{}

// WithOptions attaches per-fetch caching hints to ctx for requests that go
// through a Transport.
func WithOptions(ctx context.Context, opts Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFromContext returns the hints attached by WithOptions, or the zero
// Options.
func OptionsFromContext(ctx context.Context) Options {
	opts, _ := ctx.Value(optionsKey{}).(Options)
	return opts
}

// Transport adapts a Client to http.RoundTripper, so SDKs that only accept
// an *http.Client are intercepted as well. Hints are read from the request
// context (see WithOptions).
type Transport struct {
	Client *Client
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Client.Do(req, OptionsFromContext(req.Context()))
}

// HTTPClient returns an *http.Client whose requests are intercepted by c.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: &Transport{Client: c}}
}
