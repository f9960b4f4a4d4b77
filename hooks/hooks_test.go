package hooks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Skryldev/image-compositor/core"
	"github.com/Skryldev/image-compositor/hooks"
)

func TestObserve_NotifiesHooksAndMetrics(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	hs := []core.Hook{hooks.NewMetricsHook(m)}

	_ = hooks.Observe(context.Background(), hs, "load.overlay", func() error { return nil })
	wantErr := errors.New("boom")
	err := hooks.Observe(context.Background(), hs, "load.foreground.cors", func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("Observe returned %v", err)
	}

	snap := m.Snapshot()
	if snap.StepCalls["load.overlay"] != 1 || snap.StepCalls["load.foreground.cors"] != 1 {
		t.Errorf("calls: %v", snap.StepCalls)
	}
	if snap.StepErrors["load.foreground.cors"] != 1 || snap.StepErrors["load.overlay"] != 0 {
		t.Errorf("errors: %v", snap.StepErrors)
	}
}

func TestInMemoryMetrics_Throughput(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	m.RecordThroughput(10)
	m.RecordThroughput(32)
	m.RecordProcessingTime("render", 1500*time.Millisecond)
	snap := m.Snapshot()
	if snap.TotalThroughputB != 42 {
		t.Errorf("throughput %d", snap.TotalThroughputB)
	}
	if snap.StepDurationsMs["render"] != 1500 {
		t.Errorf("duration %d", snap.StepDurationsMs["render"])
	}
}

func TestLoggingHook_Slog(t *testing.T) {
	var buf bytes.Buffer
	log := hooks.NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	h := hooks.NewLoggingHook(log)

	h.BeforeStep(context.Background(), "render.foreground")
	h.AfterStep(context.Background(), "render.foreground", time.Millisecond, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "step.done" || rec["step"] != "render.foreground" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestLogrusLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	hooks.NewLogrusLogger(l).Warn("fallback", "url", "https://x", "attempt", 2, "dangling")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if rec["msg"] != "fallback" || rec["url"] != "https://x" || rec["attempt"] != float64(2) {
		t.Errorf("unexpected record %v", rec)
	}
	if rec["!BADKEY"] != "dangling" {
		t.Errorf("odd field not preserved: %v", rec)
	}
}
