// ABOUTME: Tests for the tool-calling generator against a scripted backend.
// ABOUTME: Verifies request shape, tool dispatch, unknown tools and the round limit.

package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389-research/buddy/llm"
	"github.com/2389-research/buddy/tools"
)

// scriptedBackend returns queued responses in order and records every request.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
	repeat    *llm.Response
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(b.responses) > 0 {
		r := b.responses[0]
		b.responses = b.responses[1:]
		return r, nil
	}
	if b.repeat != nil {
		return b.repeat, nil
	}
	return &llm.Response{Message: llm.AssistantMessage("default")}, nil
}

func (b *scriptedBackend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

func toolCallResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}}
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Message: llm.AssistantMessage(text)}
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestGeneratorPlainReply(t *testing.T) {
	backend := &scriptedBackend{responses: []*llm.Response{textResponse("  hi there  ")}}
	g := &BackendGenerator{Backend: backend, Tools: tools.NewDefaultRegistry(fixedNow), Model: "m1"}

	history := []llm.Message{llm.UserMessage("earlier"), llm.AssistantMessage("reply")}
	gen, err := g.Generate(context.Background(), "now", history)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Text != "hi there" || !gen.Live || len(gen.Context) != 0 {
		t.Errorf("generation = %+v", gen)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	msgs := reqs[0].Messages
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want system+2 history+user", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != DefaultSystemPrompt {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[3].Role != llm.RoleUser || msgs[3].Content != "now" {
		t.Errorf("last message = %+v", msgs[3])
	}
	if reqs[0].Model != "m1" {
		t.Errorf("model = %q", reqs[0].Model)
	}
	if len(reqs[0].Tools) != 6 {
		t.Errorf("tools advertised = %d, want 6", len(reqs[0].Tools))
	}
	if len(history) != 2 {
		t.Error("history was mutated")
	}
}

func TestGeneratorRunsTools(t *testing.T) {
	backend := &scriptedBackend{responses: []*llm.Response{
		toolCallResponse(
			llm.ToolCall{ID: "c1", Name: "get_current_time", Arguments: "{}"},
			llm.ToolCall{ID: "c2", Name: "calculate", Arguments: `{"expression":"6 * 7"}`},
		),
		textResponse("It is time and the answer is 42."),
	}}
	g := &BackendGenerator{Backend: backend, Tools: tools.NewDefaultRegistry(fixedNow)}

	gen, err := g.Generate(context.Background(), "what time, and 6*7?", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Text != "It is time and the answer is 42." {
		t.Errorf("Text = %q", gen.Text)
	}
	if gen.ToolCalls != 2 {
		t.Errorf("ToolCalls = %d, want 2", gen.ToolCalls)
	}
	if len(gen.Context) != 3 {
		t.Fatalf("Context = %d messages, want assistant + 2 tool results", len(gen.Context))
	}
	if gen.Context[0].Role != llm.RoleAssistant || len(gen.Context[0].ToolCalls) != 2 {
		t.Errorf("context[0] = %+v", gen.Context[0])
	}
	if gen.Context[1].Role != llm.RoleTool || gen.Context[1].ToolCallID != "c1" ||
		gen.Context[1].Content != fixedNow().Format(tools.TimeLayout) {
		t.Errorf("context[1] = %+v", gen.Context[1])
	}
	if gen.Context[2].ToolCallID != "c2" || !strings.Contains(gen.Context[2].Content, "42") {
		t.Errorf("context[2] = %+v", gen.Context[2])
	}

	reqs := backend.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	second := reqs[1].Messages
	if got := second[len(second)-1]; got.Role != llm.RoleTool || got.ToolCallID != "c2" {
		t.Errorf("second request should end with the tool result, got %+v", got)
	}
}

func TestGeneratorUnknownToolBecomesMessage(t *testing.T) {
	backend := &scriptedBackend{responses: []*llm.Response{
		toolCallResponse(llm.ToolCall{ID: "c1", Name: "launch_rocket", Arguments: "{}"}),
		textResponse("I can't do that."),
	}}
	g := &BackendGenerator{Backend: backend, Tools: tools.NewDefaultRegistry(fixedNow)}

	gen, err := g.Generate(context.Background(), "launch", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Context[1].Content != "Unknown tool: launch_rocket" {
		t.Errorf("tool result = %q", gen.Context[1].Content)
	}
	if gen.Text != "I can't do that." {
		t.Errorf("Text = %q", gen.Text)
	}
}

func TestGeneratorRoundLimit(t *testing.T) {
	loop := toolCallResponse(llm.ToolCall{ID: "c", Name: "get_current_time", Arguments: "{}"})
	backend := &scriptedBackend{repeat: loop}
	g := &BackendGenerator{Backend: backend, Tools: tools.NewDefaultRegistry(fixedNow), MaxToolRounds: 2}

	gen, err := g.Generate(context.Background(), "loop", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Text != "" {
		t.Errorf("Text = %q, want empty so the caller falls back", gen.Text)
	}
	if n := len(backend.Requests()); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestGeneratorBackendErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	backend := &scriptedBackend{errs: []error{boom}}
	g := &BackendGenerator{Backend: backend}

	if _, err := g.Generate(context.Background(), "x", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestGeneratorMisconfigurationIsFatal(t *testing.T) {
	tests := []struct {
		name string
		gen  *BackendGenerator
	}{
		{"no backend", &BackendGenerator{}},
		{"tool call without registry", &BackendGenerator{Backend: &scriptedBackend{repeat: toolCallResponse(llm.ToolCall{ID: "c", Name: "help"})}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.gen.Generate(context.Background(), "x", nil)
			if Classify(err) != OutcomeFatalFailure {
				t.Errorf("Classify(%v) = %s, want fatal", err, Classify(err))
			}
		})
	}
}

func TestGeneratorOfflineIsNotLive(t *testing.T) {
	g := &BackendGenerator{Backend: llm.NewOffline()}
	gen, err := g.Generate(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Live {
		t.Error("offline generation reported as live")
	}
	if !strings.Contains(gen.Text, "demo mode") {
		t.Errorf("Text = %q, want demo mode note", gen.Text)
	}
}
