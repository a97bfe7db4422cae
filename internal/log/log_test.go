package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, LevelWarn)
	defer Setup(&bytes.Buffer{}, LevelInfo)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "reminder_id", 3)
	Error("shown error", errors.New("boom"), "field", "title")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["msg"] != "shown warn" || lines[0]["reminder_id"] != float64(3) {
		t.Fatalf("unexpected warn line: %v", lines[0])
	}
	if lines[1]["err"] != "boom" || lines[1]["field"] != "title" {
		t.Fatalf("unexpected error line: %v", lines[1])
	}
}

func TestOddKeyValuesAreDropped(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, LevelDebug)
	defer Setup(&bytes.Buffer{}, LevelInfo)

	Info("odd", "a", 1, "dangling")
	Info("bad key", 42, "x")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if _, ok := lines[0]["dangling"]; ok {
		t.Fatalf("dangling key should be dropped: %v", lines[0])
	}
	if lines[0]["a"] != float64(1) {
		t.Fatalf("expected a=1, got %v", lines[0])
	}
	if strings.Contains(buf.String(), "BADKEY") {
		t.Fatalf("unexpected BADKEY in %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
