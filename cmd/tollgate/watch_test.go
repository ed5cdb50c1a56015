package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/audit/report"
	"mercator-hq/tollgate/pkg/audit/sink"
	"mercator-hq/tollgate/pkg/gate"
	"mercator-hq/tollgate/pkg/telemetry/health"
)

func resetWatchFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		watchFlags.schedule = ""
		watchFlags.listen = ""
		watchFlags.debounce = 0
		watchFlags.auditLog = ""
		watchFlags.actor = ""
		watchFlags.maxAge = 0
	}
	reset()
	t.Cleanup(reset)
}

func TestWatchConfig_Flags(t *testing.T) {
	writeWorkspace(t, 20)
	resetWatchFlags(t)
	watchFlags.schedule = "*/5 * * * *"
	watchFlags.listen = "127.0.0.1:0"
	watchFlags.debounce = 2 * time.Second
	watchFlags.actor = "watcher"

	cfg, err := watchConfig()
	if err != nil {
		t.Fatalf("watchConfig() failed: %v", err)
	}
	if cfg.Watch.Schedule != "*/5 * * * *" || cfg.Watch.ListenAddress != "127.0.0.1:0" || cfg.Watch.DebounceInterval != 2*time.Second {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Audit.Actor != "watcher" {
		t.Errorf("Actor = %q", cfg.Audit.Actor)
	}
}

func TestWatcher_RunServesMetricsAndReadiness(t *testing.T) {
	writeWorkspace(t, 20)
	resetWatchFlags(t)

	cfg, err := watchConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Telemetry.Metrics.Enabled = true
	if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
		t.Fatal(err)
	}
	tel, err := newTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := sink.NewMemorySink()
	ev, err := gate.New(cfg, logger, gate.WithSink(mem), gate.WithMetrics(tel.collector), gate.WithTracer(tel.tracer))
	if err != nil {
		t.Fatal(err)
	}

	tracker := &health.Tracker{}
	srv := httptest.NewServer(newWatchMux(cfg, tel, tracker))
	defer srv.Close()

	status := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := status("/ready"); got != http.StatusServiceUnavailable {
		t.Errorf("/ready before first evaluation = %d, want 503", got)
	}

	var summaries []*report.Summary
	w := &watcher{
		ev:      ev,
		tracker: tracker,
		logger:  logger,
		out:     func(s *report.Summary) { summaries = append(summaries, s) },
	}
	w.run(context.Background(), "test")

	if len(summaries) != 1 || summaries[0].Result() != "PASS" {
		t.Fatalf("summaries = %v", summaries)
	}
	if got := status("/ready"); got != http.StatusOK {
		t.Errorf("/ready after evaluation = %d, want 200", got)
	}

	resp, err := http.Get(srv.URL + cfg.Telemetry.Metrics.Path)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `tollgate_gate_evaluations_total{result="PASS"} 1`) {
		t.Errorf("metrics missing evaluation counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	var info health.VersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if info.Version != Version {
		t.Errorf("version = %q, want %q", info.Version, Version)
	}

	// A failing audit sink makes the watcher unready.
	mem.Err = sink.ErrInjected
	w.run(context.Background(), "test")
	if got := status("/ready"); got != http.StatusServiceUnavailable {
		t.Errorf("/ready after audit failure = %d, want 503", got)
	}
}

func TestWatcher_SkipsWhenCancelled(t *testing.T) {
	tracker := &health.Tracker{}
	w := &watcher{tracker: tracker, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.run(ctx, "test")

	if at, _ := tracker.Last(); !at.IsZero() {
		t.Error("cancelled run should not evaluate")
	}
}
