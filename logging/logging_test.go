// ABOUTME: Tests for logger construction from configuration.
// ABOUTME: Decodes json output to check levels and the component field.

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info().Msg("hidden")
	pipelineLog := Component(l, "pipeline")
	pipelineLog.Warn().Str("action", "fallback").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q, want only the warning", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for k, want := range map[string]string{
		"level":     "warn",
		"component": "pipeline",
		"action":    "fallback",
		"service":   "buddy",
		"message":   "shown",
	} {
		if entry[k] != want {
			t.Errorf("%s = %v, want %q", k, entry[k], want)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "DEBUG", Format: "console"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug().Str("run_id", "r1").Msg("advanced")
	out := buf.String()
	if !strings.Contains(out, "advanced") || !strings.Contains(out, "run_id=r1") {
		t.Errorf("console output = %q", out)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"level", Config{Level: "chatty", Format: "json"}},
		{"format", Config{Level: "info", Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, &bytes.Buffer{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}
