package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitReadyRetriesUntilAvailable(t *testing.T) {
	old := RetryInterval
	RetryInterval = 10 * time.Millisecond
	defer func() { RetryInterval = old }()

	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	go func() {
		time.Sleep(2 * RetryInterval)
		ready.Store(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*RetryInterval)
	defer cancel()

	if err := waitReady(ctx, srv.URL); err != nil {
		t.Fatalf("waitReady: %v", err)
	}
}

func TestWaitReadyCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := waitReady(ctx, "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestFetchVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Browser":"Chrome/1.0","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	info, err := fetchVersion(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetchVersion: %v", err)
	}
	if info.WebSocketURL != "ws://127.0.0.1:9222/devtools/browser/abc" {
		t.Fatalf("unexpected ws url: %s", info.WebSocketURL)
	}
}
