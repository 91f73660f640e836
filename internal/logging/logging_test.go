package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"empty defaults to info", "", slog.LevelInfo, false},
		{"debug", "debug", slog.LevelDebug, false},
		{"upper case", "WARN", slog.LevelWarn, false},
		{"warning alias", "warning", slog.LevelWarn, false},
		{"error", "error", slog.LevelError, false},
		{"unknown", "verbose", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v; wantErr %v", tc.input, err, tc.wantErr)
			}
			if level != tc.expected {
				t.Errorf("ParseLevel(%q) = %v; want %v", tc.input, level, tc.expected)
			}
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn, false)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "key=value") {
		t.Errorf("warn message missing from output: %s", out)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, true).Info("hello", "n", 3)

	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %s", buf.String())
	}
}

func TestOrNoop(t *testing.T) {
	if OrNoop(nil) == nil {
		t.Fatal("OrNoop(nil) should return a usable logger")
	}
	l := Noop()
	if OrNoop(l) != l {
		t.Error("OrNoop should return the given logger unchanged")
	}
}
