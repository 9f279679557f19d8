package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"loadout/internal/services"
)

func TestConsoleHandlerHoistsComponent(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Info("frame processed", String(FieldComponent, "aggregator"), Int("verified", 3))

	line := buf.String()
	if !strings.Contains(line, "aggregator: frame processed") {
		t.Fatalf("component not hoisted: %q", line)
	}
	if !strings.Contains(line, "verified=3") {
		t.Fatalf("attribute missing: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as attribute: %q", line)
	}
}

func TestConsoleHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Warn("eviction", String("reason", "queue at capacity"))

	if !strings.Contains(buf.String(), `reason="queue at capacity"`) {
		t.Fatalf("value with spaces not quoted: %q", buf.String())
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged despite warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn log missing")
	}
}

func TestWithContextAddsSessionFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	ctx := services.WithSessionID(context.Background(), "sess-1")
	ctx = services.WithTenantID(ctx, "tenant-a")
	ctx = services.WithFrameSeq(ctx, 7)

	WithContext(ctx, logger).Info("update")

	line := buf.String()
	for _, want := range []string{"session_id=sess-1", "tenant_id=tenant-a", "frame_seq=7"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
}

func TestFormatValueTime(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := formatValue(slog.TimeValue(ts).Resolve())
	if got != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected time format: %q", got)
	}
}
