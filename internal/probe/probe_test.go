package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckReachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	prober, err := New(server.URL + "/")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	event := Check(context.Background(), prober, time.Second)
	if event.Status != StatusReady {
		t.Fatalf("expected ready, got %s (%s)", event.Status, event.Reason)
	}
	if event.Err != nil || event.Reason != "" {
		t.Fatalf("ready result carries error: %v %q", event.Err, event.Reason)
	}
}

func TestCheckClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	prober, err := New("http://" + addr + "/")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	event := Check(context.Background(), prober, time.Second)
	if event.Status != StatusUnready {
		t.Fatalf("expected unready, got %s", event.Status)
	}
	if !strings.Contains(event.Reason, "dial") {
		t.Fatalf("expected dial failure, got %q", event.Reason)
	}
}

func TestCheckTimeout(t *testing.T) {
	blocked := proberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	event := Check(context.Background(), blocked, 50*time.Millisecond)
	if event.Status != StatusUnready || !strings.Contains(event.Reason, "timeout") {
		t.Fatalf("expected timeout, got %+v", event)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("check exceeded timeout budget: %v", elapsed)
	}
}

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	if _, err := New("ws://localhost:3000"); err == nil {
		t.Fatalf("expected error for websocket url")
	}
}

func TestHTTPProberServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	err := newHTTPProber(server.URL).Probe(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "status=502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestMultiProberFirstSuccessWins(t *testing.T) {
	failing := proberFunc(func(context.Context) error { return errors.New("boom") })
	ok := proberFunc(func(context.Context) error { return nil })

	if err := newMultiProber(probeTerm{alias: "a", probe: failing}, probeTerm{alias: "b", probe: ok}).Probe(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	err := newMultiProber(probeTerm{alias: "a", probe: failing}, probeTerm{alias: "b", probe: failing}).Probe(context.Background())
	if err == nil || !strings.Contains(err.Error(), "a: boom") || !strings.Contains(err.Error(), "b: boom") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestWatchTransitions(t *testing.T) {
	var healthy atomic.Bool
	prober := proberFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	spec := Spec{
		GracePeriod:      60 * time.Millisecond,
		Interval:         15 * time.Millisecond,
		Timeout:          200 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthy.Store(true)
	events := Watch(ctx, prober, spec, nil)
	ensureNoEvent(t, events, 40*time.Millisecond)

	ready := expectEvent(t, events, StatusReady, time.Second)
	if ready.Err != nil {
		t.Fatalf("expected ready without error, got %v", ready.Err)
	}

	healthy.Store(false)
	unready := expectEvent(t, events, StatusUnready, time.Second)
	if unready.Reason != "connection refused" {
		t.Fatalf("unexpected reason %q", unready.Reason)
	}
}

func TestWatchTimeoutAndCancellation(t *testing.T) {
	blocked := proberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	t.Run("timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		events := Watch(ctx, blocked, Spec{Timeout: 50 * time.Millisecond}, nil)
		event := expectEvent(t, events, StatusUnready, time.Second)
		if !strings.Contains(event.Reason, "timeout") {
			t.Fatalf("expected timeout reason, got %q", event.Reason)
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		events := Watch(ctx, blocked, Spec{Interval: 10 * time.Millisecond, Timeout: 500 * time.Millisecond}, nil)
		cancel()
		select {
		case _, ok := <-events:
			if ok {
				t.Fatalf("expected channel to close after cancellation")
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("watcher did not close on cancellation")
		}
	})
}

type proberFunc func(context.Context) error

func (p proberFunc) Probe(ctx context.Context) error {
	return p(ctx)
}

func expectEvent(t *testing.T, events <-chan Event, status Status, timeout time.Duration) Event {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("events channel closed while waiting for %s", status)
		}
		if event.Status != status {
			t.Fatalf("expected status %s, got %s", status, event.Status)
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for status %s", status)
	}
	return Event{}
}

func ensureNoEvent(t *testing.T, events <-chan Event, duration time.Duration) {
	t.Helper()
	select {
	case event, ok := <-events:
		if ok {
			t.Fatalf("unexpected event %s during quiet period", event.Status)
		}
		t.Fatalf("events channel closed unexpectedly")
	case <-time.After(duration):
	}
}

func TestTCPProberAddress(t *testing.T) {
	tests := map[string]string{
		"http://localhost:5173/":  "localhost:5173",
		"http://localhost/":       "localhost:80",
		"https://example.test/x":  "example.test:443",
		"http://[::1]:8080/admin": "[::1]:8080",
	}
	for raw, want := range tests {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got := newTCPProber(u).address; got != want {
			t.Fatalf("address for %s = %q, want %q", raw, got, want)
		}
	}
}
