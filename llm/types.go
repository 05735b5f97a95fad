// ABOUTME: Core message and request types shared by the generation backends and conversation history.
// ABOUTME: Defines Message, ToolCall, ToolDefinition, Request, Response and the Backend interface.

package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Role represents who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-initiated request to run a registered tool.
// Arguments holds the raw JSON object the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentsMap parses the raw JSON arguments into a map. An empty argument
// string is treated as an empty object.
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	m := map[string]any{}
	if strings.TrimSpace(tc.Arguments) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Message is a single entry in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// SystemMessage creates a system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant text message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolResultMessage creates a tool-role message answering the call with the given id.
func ToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: toolName}
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}

// ToolDefinition describes a tool the model may call. Parameters is a JSON
// Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a single chat completion request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
}

// Response is the backend's answer to a Request.
type Response struct {
	Message      Message
	Model        string
	FinishReason string
	// Offline is set by backends that answer without a live model.
	Offline bool
}

// Text returns the trimmed assistant text of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Message.Content)
}

// Backend produces one assistant turn for a request.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// PairSafe drops tool messages whose originating assistant tool call is not
// present earlier in msgs. A bounded history window can evict the assistant
// half of a pair and chat APIs reject orphaned tool results.
func PairSafe(msgs []Message) []Message {
	seen := make(map[string]bool)
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				seen[tc.ID] = true
			}
		case RoleTool:
			if !seen[m.ToolCallID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
