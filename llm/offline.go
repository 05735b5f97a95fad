// ABOUTME: Deterministic keyword responder used when no API credential is configured.
// ABOUTME: Also supplies the canned replies the pipeline falls back to when a live backend is unavailable.

package llm

import (
	"context"
	"strings"
)

// DemoModeNote is appended to offline replies that do not already explain demo mode.
const DemoModeNote = "(Running in demo mode. Set OPENAI_API_KEY to enable full AI responses.)"

const defaultCannedReply = "That's an interesting question! I'm currently running in demo mode. " +
	"To get full AI responses, please set your OPENAI_API_KEY environment variable."

var cannedReplies = []struct {
	keywords []string
	reply    string
}{
	{[]string{"hello", "hi"}, "Hello! I'm Buddy, your AI assistant. How can I help you today?"},
	{[]string{"how are you"}, "I'm doing well, thank you for asking! I'm here and ready to help you with any questions or tasks you might have."},
	{[]string{"weather"}, "I don't have access to real-time weather data, but I'd be happy to help you find weather information or discuss weather-related topics!"},
	{[]string{"time"}, "I don't have access to real-time information, but you can check the current time on your device!"},
}

// CannedReply returns the deterministic reply for input. Matching is by
// whole word, case-insensitive, first rule wins.
func CannedReply(input string) string {
	lower := strings.ToLower(input)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	joined := " " + strings.Join(words, " ") + " "
	for _, rule := range cannedReplies {
		for _, kw := range rule.keywords {
			if strings.Contains(joined, " "+kw+" ") {
				return rule.reply
			}
		}
	}
	return defaultCannedReply
}

// Offline answers every request with a canned reply and never calls tools.
type Offline struct{}

// NewOffline returns the offline backend.
func NewOffline() *Offline { return &Offline{} }

// Name identifies the backend in logs and run records.
func (o *Offline) Name() string { return "offline" }

// Complete replies to the most recent user message.
func (o *Offline) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			input = req.Messages[i].Content
			break
		}
	}

	reply := CannedReply(input)
	if !strings.Contains(strings.ToLower(reply), "demo mode") {
		reply += " " + DemoModeNote
	}
	return &Response{
		Message:      AssistantMessage(reply),
		Model:        "offline",
		FinishReason: "stop",
		Offline:      true,
	}, nil
}

var _ Backend = (*Offline)(nil)
