package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/FadeVT/Frostband/types"
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

func TestLogger_ForRunAddsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf).ForRun("run-123", types.PipelinePullPurge)

	logger.Info("stage changed", map[string]any{"stage": "verifying"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	entry := lines[0]
	if entry["run_id"] != "run-123" {
		t.Errorf("run_id = %v, want run-123", entry["run_id"])
	}
	if entry["pipeline"] != "pull_purge" {
		t.Errorf("pipeline = %v, want pull_purge", entry["pipeline"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["message"] != "stage changed" {
		t.Errorf("message = %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["stage"] != "verifying" {
		t.Errorf("fields = %v", entry["fields"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf)

	logger.Debug("d", nil)
	logger.Warn("w", nil)
	logger.Error("e", nil)

	lines := decodeLines(t, &buf)
	want := []string{"debug", "warn", "error"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(lines), len(want))
	}
	for i, w := range want {
		if lines[i]["level"] != w {
			t.Errorf("line %d level = %v, want %s", i, lines[i]["level"], w)
		}
	}
}

func TestLogger_WithOutputKeepsContext(t *testing.T) {
	var first, second bytes.Buffer
	logger := NewLoggerWithWriter(&first).ForRun("r1", types.PipelineDirectUpload)

	logger.WithOutput(&second).Sugar().Infof("uploaded %d files", 3)

	if first.Len() != 0 {
		t.Errorf("original writer received output: %s", first.String())
	}
	lines := decodeLines(t, &second)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["message"] != "uploaded 3 files" {
		t.Errorf("message = %v", lines[0]["message"])
	}
	if lines[0]["run_id"] != "r1" {
		t.Errorf("run_id = %v, want r1", lines[0]["run_id"])
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Info("ignored", map[string]any{"k": "v"})
	logger.With("vault").Sugar().Errorf("ignored %s", "too")
}
