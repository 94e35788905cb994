package cache

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseToValue_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Version", "7")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte{0x00, 0xff, 0x10, 'a'})
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/bin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	value, err := ResponseToValue(resp, 60)
	if err != nil {
		t.Fatalf("ResponseToValue() error = %v", err)
	}

	// Caller still sees the full body
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "\x00\xff\x10a" {
		t.Errorf("restored body = %q", body)
	}

	if value.Kind != KindFetch || value.Revalidate != 60 {
		t.Errorf("value = %+v", value)
	}
	if value.Data.Status != http.StatusAccepted {
		t.Errorf("status = %d, want 202", value.Data.Status)
	}
	if value.Data.URL != server.URL+"/bin" {
		t.Errorf("URL = %q", value.Data.URL)
	}
	if value.Data.Headers["X-Version"] != "7" {
		t.Errorf("headers = %v", value.Data.Headers)
	}

	req := httptest.NewRequest(http.MethodGet, server.URL+"/bin", nil)
	rebuilt, err := ValueToResponse(value, req)
	if err != nil {
		t.Fatalf("ValueToResponse() error = %v", err)
	}
	rebuiltBody, _ := io.ReadAll(rebuilt.Body)
	if string(rebuiltBody) != "\x00\xff\x10a" {
		t.Errorf("rebuilt body = %q", rebuiltBody)
	}
	if rebuilt.StatusCode != http.StatusAccepted {
		t.Errorf("rebuilt status = %d", rebuilt.StatusCode)
	}
	if rebuilt.Header.Get("Content-Type") != "application/octet-stream" {
		t.Errorf("rebuilt headers = %v", rebuilt.Header)
	}
	if rebuilt.Request != req {
		t.Error("rebuilt response does not carry the request")
	}
}

func TestValueToResponse_DefaultsAndErrors(t *testing.T) {
	resp, err := ValueToResponse(NewFetchValue(&FetchData{Body: "aGk="}, 10), nil)
	if err != nil {
		t.Fatalf("ValueToResponse() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	tests := []struct {
		name  string
		value *Value
	}{
		{"nil", nil},
		{"page", &Value{Kind: KindPage}},
		{"bad base64", NewFetchValue(&FetchData{Body: "!!"}, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValueToResponse(tt.value, nil); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("ValueToResponse() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}
