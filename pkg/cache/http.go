package cache

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ResponseToValue converts an upstream HTTP response into a FETCH value
// with the given revalidate window. The body is base64 encoded and the
// response body is restored for the caller.
func ResponseToValue(resp *http.Response, revalidate int) (*Value, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(name)] = values[0]
		}
	}

	data := &FetchData{
		Headers: headers,
		Body:    base64.StdEncoding.EncodeToString(body),
		Status:  resp.StatusCode,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		data.URL = resp.Request.URL.String()
	}

	return NewFetchValue(data, revalidate), nil
}

// ValueToResponse reconstructs an HTTP response from a FETCH value.
// req becomes the response's Request and may be nil.
func ValueToResponse(v *Value, req *http.Request) (*http.Response, error) {
	if v == nil || v.Kind != KindFetch || v.Data == nil {
		return nil, fmt.Errorf("%w: not a fetch value", ErrInvalidEntry)
	}

	body, err := base64.StdEncoding.DecodeString(v.Data.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrInvalidEntry, err)
	}

	status := v.Data.Status
	if status == 0 {
		status = http.StatusOK
	}

	header := make(http.Header, len(v.Data.Headers))
	for name, value := range v.Data.Headers {
		header.Set(name, value)
	}

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
