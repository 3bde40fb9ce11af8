package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"verbose", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSimulationFields(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		key   string
		value any
	}{
		{"run", RunID("abc"), "run_id", "abc"},
		{"network", Network("k2a"), "network", "k2a"},
		{"time", SimTime(1.5), "t", 1.5},
		{"line", Line("L1"), "line", "L1"},
		{"bus", Bus(3), "bus", 3},
		{"transformer", Transformer(0), "transformer", 0},
		{"kind", Kind("step"), "kind", "step"},
		{"latency", Latency(2 * time.Second), "latency", "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.field.Key != tt.key || tt.field.Value != tt.value {
				t.Errorf("got %+v, want {%s %v}", tt.field, tt.key, tt.value)
			}
		})
	}
}

func TestErrorFieldNil(t *testing.T) {
	f := Error(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("Error(nil) = %+v", f)
	}
	f = Error(errors.New("boom"))
	if f.Value != "boom" {
		t.Errorf("Error(boom) = %+v", f)
	}
}

func TestJSONLoggerWritesEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("run started", RunID("r1"), Network("k2a"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if entry.Level != "INFO" || entry.Message != "run started" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["run_id"] != "r1" || entry.Fields["network"] != "k2a" {
		t.Errorf("fields = %v", entry.Fields)
	}
	if _, err := time.Parse(time.RFC3339Nano, entry.Time); err != nil {
		t.Errorf("time %q: %v", entry.Time, err)
	}
}

func TestJSONLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("step")
	logger.Info("init")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below WARN, got %q", buf.String())
	}

	logger.Warn("residual high")
	logger.SetLevel(ErrorLevel)
	logger.Warn("dropped")
	logger.Error("failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if logger.GetLevel() != ErrorLevel {
		t.Errorf("GetLevel() = %v", logger.GetLevel())
	}
}

func TestJSONLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, DebugLevel)
	child := parent.With(Component("scheduler"))

	child.Debug("event applied", Kind("line_outage"))
	parent.Debug("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first, second LogEntry
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)

	if first.Fields["component"] != "scheduler" || first.Fields["kind"] != "line_outage" {
		t.Errorf("child fields = %v", first.Fields)
	}
	if _, ok := second.Fields["component"]; ok {
		t.Errorf("parent picked up child fields: %v", second.Fields)
	}
}

func TestJSONLoggerUnmarshalableValue(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("residual", Float64("max", math.NaN()))

	if !strings.Contains(buf.String(), "marshal_error") {
		t.Errorf("expected fallback line, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "residual") {
		t.Errorf("message lost: %q", buf.String())
	}
}

func TestTimedOperation(t *testing.T) {
	rec := NewRecorder()

	op := StartTimer(rec, "power flow", Network("k2a"))
	if d := op.End(Count(3)); d < 0 {
		t.Errorf("negative duration %v", d)
	}
	op = StartTimer(rec, "power flow")
	op.EndError(errors.New("diverged"))

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != InfoLevel || entries[0].Fields["network"] != "k2a" || entries[0].Fields["count"] != 3 {
		t.Errorf("End entry = %+v", entries[0])
	}
	if _, ok := entries[0].Fields["latency"]; !ok {
		t.Error("End entry has no latency")
	}
	if entries[1].Level != ErrorLevel || entries[1].Fields["error"] != "diverged" {
		t.Errorf("EndError entry = %+v", entries[1])
	}
}

func TestRecorderSharesEntriesWithChildren(t *testing.T) {
	rec := NewRecorder()
	child := rec.With(RunID("r1"))

	child.Warn("residual above tolerance")
	rec.SetLevel(WarnLevel)
	rec.Info("hidden")
	child.Error("failed")

	if got := rec.Count(WarnLevel, "residual above tolerance"); got != 1 {
		t.Errorf("Count() = %d", got)
	}
	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Fields["run_id"] != "r1" {
		t.Errorf("child field missing: %+v", entries[1])
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = NewNopLogger()
	l.Info("ignored", String("k", "v"))
	l.SetLevel(ErrorLevel)
	if l.GetLevel() != InfoLevel {
		t.Errorf("NopLogger level = %v", l.GetLevel())
	}
	if l.With(Component("x")) == nil {
		t.Error("With returned nil")
	}
}
