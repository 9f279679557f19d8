package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderStatusLinePlain(t *testing.T) {
	line := renderStatusLine("Queue", statusOK, "3 pending", false)
	if !strings.Contains(line, "Queue:") {
		t.Fatalf("missing label in %q", line)
	}
	if !strings.Contains(line, "[OK] 3 pending") {
		t.Fatalf("missing status text in %q", line)
	}
	if strings.Contains(line, ansiGreen) {
		t.Fatalf("plain output should not carry ANSI codes: %q", line)
	}
}

func TestRenderStatusLineColorized(t *testing.T) {
	line := renderStatusLine("Connectivity", statusWarn, "offline", true)
	if !strings.HasPrefix(line, ansiYellow) || !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected yellow wrapping, got %q", line)
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader("Loadout Daemon", false)
	if len(lines) != 2 {
		t.Fatalf("expected header and rule, got %d lines", len(lines))
	}
	if lines[0] != "== Loadout Daemon ==" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines[1]) != len(lines[0]) {
		t.Fatalf("rule length %d does not match header length %d", len(lines[1]), len(lines[0]))
	}
}

func TestConnectivityStatus(t *testing.T) {
	if kind, msg := connectivityStatus(true); kind != statusOK || msg != "connected" {
		t.Fatalf("online = (%v, %q)", kind, msg)
	}
	if kind, msg := connectivityStatus(false); kind != statusWarn || !strings.Contains(msg, "queue locally") {
		t.Fatalf("offline = (%v, %q)", kind, msg)
	}
}

func TestQueueStatus(t *testing.T) {
	if queueStatus(0) != statusOK {
		t.Fatal("empty queue should render OK")
	}
	if queueStatus(3) != statusInfo {
		t.Fatal("backlog should render as info, not alarm")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffer writer should not colorize")
	}
}

func TestFormatCents(t *testing.T) {
	cases := map[int64]string{
		0:    "$0.00",
		7:    "$0.07",
		240:  "$2.40",
		1000: "$10.00",
		-35:  "-$0.35",
	}
	for cents, want := range cases {
		if got := formatCents(cents); got != want {
			t.Errorf("formatCents(%d) = %q, want %q", cents, got, want)
		}
	}
}
