// ABOUTME: Tests for the interactive prompt loop using a scripted asker.
// ABOUTME: Covers the banner, commands, blank lines and end of input.
package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type recordingAsker struct {
	inputs   []string
	sessions []string
}

func (r *recordingAsker) Ask(ctx context.Context, sessionID, input string) string {
	r.inputs = append(r.inputs, input)
	r.sessions = append(r.sessions, sessionID)
	return "reply to " + input
}

func TestREPL(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantInputs []string
		wantOut    []string
	}{
		{"exit stops", "hello\nexit\nignored\n", []string{"hello"}, []string{"Buddy: reply to hello"}},
		{"quit any case", "  QUIT  \nhello\n", nil, nil},
		{"help is local", "help\nbye\n", []string{"bye"}, []string{"Available commands:", "exit  - Exit the application"}},
		{"blank lines skipped", "\n   \nhi\n", []string{"hi"}, []string{"Buddy: reply to hi"}},
		{"input trimmed", "   spaced out   \n", []string{"spaced out"}, nil},
		{"end of input", "", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &recordingAsker{}
			var out bytes.Buffer
			if err := runREPL(context.Background(), a, "s1", strings.NewReader(tt.in), &out); err != nil {
				t.Fatalf("runREPL: %v", err)
			}
			if strings.Join(a.inputs, "|") != strings.Join(tt.wantInputs, "|") {
				t.Errorf("inputs = %q, want %q", a.inputs, tt.wantInputs)
			}
			for _, s := range a.sessions {
				if s != "s1" {
					t.Errorf("session = %q, want s1", s)
				}
			}
			got := out.String()
			if !strings.Contains(got, "=== Welcome to Buddy AI Agent ===") || !strings.Contains(got, "Buddy> ") {
				t.Errorf("missing banner or prompt:\n%s", got)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestREPLStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &recordingAsker{}
	if err := runREPL(ctx, a, "s1", strings.NewReader("hello\n"), &bytes.Buffer{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	if len(a.inputs) != 0 {
		t.Errorf("asked %q after cancellation", a.inputs)
	}
}
