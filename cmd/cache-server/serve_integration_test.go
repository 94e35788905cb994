//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/rendercache/internal/config"
	"github.com/Sternrassler/rendercache/pkg/cacheserver"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestRedis starts a Redis container and returns its address.
func setupTestRedis(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return host + ":" + port.Port(), func() { container.Terminate(ctx) }
}

func TestServe_Redis(t *testing.T) {
	addr, cleanup := setupTestRedis(t)
	defer cleanup()

	cfg := config.Default()
	cfg.Listen = freeAddr(t)
	cfg.Token = "secret"
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.Redis.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, zerolog.Nop())
	}()
	defer func() {
		cancel()
		<-done
	}()

	base := fmt.Sprintf("http://%s", cfg.Listen)
	post := func(path string, payload any) *http.Response {
		t.Helper()
		body, _ := json.Marshal(payload)
		req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer secret")
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}

	var ready bool
	for i := 0; i < 50; i++ {
		if resp, err := http.Get(base + "/health"); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !ready {
		t.Fatal("server never became healthy")
	}

	resp := post(cacheserver.SetItemsPath, []map[string]string{{"id": "k1", "value": `{"kind":"FETCH"}`}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setItems status = %d, want 200", resp.StatusCode)
	}

	resp = post(cacheserver.GetItemsPath, []string{"k1", "k2"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("getItems status = %d, want 200", resp.StatusCode)
	}
	var items map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode getItems: %v", err)
	}
	if _, ok := items["k1"]; !ok {
		t.Error("getItems missing k1")
	}
	if _, ok := items["k2"]; ok {
		t.Error("getItems returned unknown k2")
	}
}
