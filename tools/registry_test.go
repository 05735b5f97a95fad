// ABOUTME: Tests for the tool registry and the dispatch boundary.
// ABOUTME: Covers registration rules, argument validation, handler failures and concurrent lookups.

package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/2389-research/buddy/llm"
)

func echoTool(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: "echoes its input",
		Params:      []Param{{Name: "text", Type: TypeString}},
		Handler: func(ctx context.Context, args Args) (string, error) {
			return args.String("text"), nil
		},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(echoTool("echo"))
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateToolError, got %v", err)
	}
	if dup.Name != "echo" {
		t.Errorf("dup.Name = %q", dup.Name)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegisterRejectsInvalidDescriptors(t *testing.T) {
	noop := func(ctx context.Context, args Args) (string, error) { return "", nil }
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"empty name", Descriptor{Handler: noop}},
		{"nil handler", Descriptor{Name: "x"}},
		{"bad param type", Descriptor{Name: "x", Handler: noop, Params: []Param{{Name: "a", Type: "object"}}}},
		{"empty param name", Descriptor{Name: "x", Handler: noop, Params: []Param{{Type: TypeString}}}},
		{"duplicate param", Descriptor{Name: "x", Handler: noop, Params: []Param{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeNumber}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Register(tt.desc); err == nil {
				t.Fatal("expected error")
			}
			if r.Len() != 0 {
				t.Error("invalid descriptor must not be registered")
			}
		})
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "nonexistent_tool", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if unknown.Error() != "Unknown tool: nonexistent_tool" {
		t.Errorf("Error() = %q", unknown.Error())
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{
		Name: "typed",
		Params: []Param{
			{Name: "s", Type: TypeString},
			{Name: "n", Type: TypeNumber},
			{Name: "i", Type: TypeInteger},
			{Name: "b", Type: TypeBoolean},
		},
		Handler: func(ctx context.Context, args Args) (string, error) { return "ok", nil },
	})

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"s": "x", "n": 1.5, "i": 2.0, "b": true}, false},
		{"go ints accepted", map[string]any{"s": "x", "n": 3, "i": 4, "b": false}, false},
		{"missing param", map[string]any{"s": "x", "n": 1.0, "i": 2.0}, true},
		{"wrong type", map[string]any{"s": 1, "n": 1.0, "i": 2.0, "b": true}, true},
		{"fractional integer", map[string]any{"s": "x", "n": 1.0, "i": 2.5, "b": true}, true},
		{"extra param", map[string]any{"s": "x", "n": 1.0, "i": 2.0, "b": true, "zzz": 1}, true},
		{"nil args", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Invoke(context.Background(), "typed", tt.args)
			if !tt.wantErr {
				if err != nil || out != "ok" {
					t.Fatalf("Invoke = %q, %v", out, err)
				}
				return
			}
			var invalid *InvalidArgumentsError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidArgumentsError, got %v", err)
			}
			if len(invalid.Problems) == 0 {
				t.Error("expected at least one problem")
			}
		})
	}
}

func TestInvokeWrapsHandlerFailures(t *testing.T) {
	cause := errors.New("boom")
	r := NewRegistry()
	r.MustRegister(
		Descriptor{Name: "fails", Handler: func(ctx context.Context, args Args) (string, error) { return "", cause }},
		Descriptor{Name: "panics", Handler: func(ctx context.Context, args Args) (string, error) { panic("kaboom") }},
	)

	_, err := r.Invoke(context.Background(), "fails", nil)
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("ToolExecutionError should unwrap to the handler error")
	}

	_, err = r.Invoke(context.Background(), "panics", nil)
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError for panic, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("panic value missing from error: %v", err)
	}
}

func TestDispatch(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("echo"), Descriptor{
		Name:    "broken",
		Handler: func(ctx context.Context, args Args) (string, error) { return "", errors.New("disk on fire") },
	})

	tests := []struct {
		name       string
		call       llm.ToolCall
		wantResult string
		wantFailed bool
	}{
		{"success", llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"text":"hi"}`}, "hi", false},
		{"unknown", llm.ToolCall{ID: "2", Name: "nonexistent_tool", Arguments: `{}`}, "Unknown tool: nonexistent_tool", true},
		{"unknown with bad json", llm.ToolCall{ID: "3", Name: "nope", Arguments: `{`}, "Unknown tool: nope", true},
		{"bad json", llm.ToolCall{ID: "4", Name: "echo", Arguments: `not json`}, "Tool error (echo): invalid arguments", true},
		{"invalid args", llm.ToolCall{ID: "5", Name: "echo", Arguments: `{"text": 5}`}, "Tool error (echo): invalid arguments", true},
		{"handler error", llm.ToolCall{ID: "6", Name: "broken", Arguments: ``}, "Tool error (broken): disk on fire", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := r.Dispatch(context.Background(), tt.call)
			if !strings.HasPrefix(inv.Result, tt.wantResult) {
				t.Errorf("Result = %q, want prefix %q", inv.Result, tt.wantResult)
			}
			if inv.Failed() != tt.wantFailed {
				t.Errorf("Failed() = %v, want %v (err=%v)", inv.Failed(), tt.wantFailed, inv.Err)
			}
			msg := inv.Message()
			if msg.Role != llm.RoleTool || msg.ToolCallID != tt.call.ID || msg.Content != inv.Result {
				t.Errorf("unexpected message %+v", msg)
			}
		})
	}
}

func TestDefinitionsAreSortedAndIsolated(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("zeta"), echoTool("alpha"))

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("schema type = %v", defs[0].Parameters["type"])
	}
	props := defs[0].Parameters["properties"].(map[string]any)
	delete(props, "text")

	again := r.Definitions()
	if _, ok := again[0].Parameters["properties"].(map[string]any)["text"]; !ok {
		t.Error("mutating a returned definition changed the registry")
	}
}

func TestConcurrentRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("echo"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(echoTool("echo_" + string(rune('a'+i))))
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "x"})
				if err != nil || out != "x" {
					t.Errorf("Invoke = %q, %v", out, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if r.Len() != 9 {
		t.Errorf("Len() = %d, want 9", r.Len())
	}
}
