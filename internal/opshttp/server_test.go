package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/kmxconnect/feedsync/internal/health"
	"github.com/kmxconnect/feedsync/internal/log"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts Options) int {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { stop(ctx) })
	return opts.Port
}

func opsGet(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestStart_HealthEndpoints(t *testing.T) {
	port := startOps(t, Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(false, "still warming"),
	})

	status, body := opsGet(t, port, "/-/healthy")
	if status != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthy: %d %q", status, body)
	}

	status, body = opsGet(t, port, "/-/ready")
	if status != http.StatusServiceUnavailable || !strings.Contains(body, "still warming") {
		t.Fatalf("ready: %d %q", status, body)
	}
}

func TestStart_MetricsHandlerMounted(t *testing.T) {
	port := startOps(t, Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("metric_x 1\n"))
		}),
	})

	status, body := opsGet(t, port, "/metrics")
	if status != http.StatusOK || !strings.Contains(body, "metric_x") {
		t.Fatalf("metrics: %d %q", status, body)
	}
}

func TestStart_PprofToggle(t *testing.T) {
	enabled := startOps(t, Options{EnablePprof: true})
	status, _ := opsGet(t, enabled, "/debug/pprof/")
	if status != http.StatusOK {
		t.Fatalf("pprof enabled: %d", status)
	}

	disabled := startOps(t, Options{EnablePprof: false})
	status, _ = opsGet(t, disabled, "/debug/pprof/")
	if status != http.StatusNotFound {
		t.Fatalf("pprof disabled: %d, want 404", status)
	}
}

func TestStart_StopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), Options{Port: getFreePort(t)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
