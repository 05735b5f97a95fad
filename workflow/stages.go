// ABOUTME: Stage contracts for the pipeline and their default local implementations.
// ABOUTME: Holds the canned greeting, apology and fallback texts the caller may receive.

package workflow

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/2389-research/buddy/llm"
)

const (
	// Greeting answers empty or whitespace-only input.
	Greeting = "Hello! How can I help you today?"

	// EmptyResponseApology replaces generated text that is empty after trimming.
	EmptyResponseApology = "I apologize, but I couldn't generate a proper response. Please try asking your question again."

	// GenericErrorMessage is returned for every failed run.
	GenericErrorMessage = "I apologize, but I'm having trouble processing your request right now. Please try again."

	// UnavailableNote marks fallback replies produced while a live backend is failing.
	UnavailableNote = "(The AI service is unavailable right now, so this is an offline reply.)"

	// DefaultSystemPrompt is sent ahead of the history on every generation call.
	DefaultSystemPrompt = "You are Buddy, a helpful AI assistant. You are friendly, knowledgeable, " +
		"and always try to provide useful and accurate information. Keep your responses concise but informative."

	// DefaultMaxResponseChars caps the final response length.
	DefaultMaxResponseChars = 2000
)

// Preprocessor normalises raw input before generation. Implementations must
// be safe to call more than once for the same input.
type Preprocessor interface {
	Preprocess(ctx context.Context, input string) (string, error)
}

// PreprocessFunc adapts a function to Preprocessor.
type PreprocessFunc func(ctx context.Context, input string) (string, error)

// Preprocess calls f.
func (f PreprocessFunc) Preprocess(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// TrimPreprocessor trims surrounding whitespace.
var TrimPreprocessor = PreprocessFunc(func(ctx context.Context, input string) (string, error) {
	return strings.TrimSpace(input), nil
})

// Generation is the output of one successful generate attempt.
type Generation struct {
	Text string
	// Context holds intermediate messages (tool calls and results) produced
	// while generating, in order.
	Context []llm.Message
	// Live is false when the text came from an offline responder.
	Live bool
	// ToolCalls counts tool invocations made during the attempt.
	ToolCalls int
}

// Generator produces a reply for input given the session history. It must
// not mutate history and must be safe to retry.
type Generator interface {
	Generate(ctx context.Context, input string, history []llm.Message) (Generation, error)
}

// Postprocess trims text, substitutes the apology for empty text, and
// truncates to limit runes (limit <= 0 disables truncation).
func Postprocess(text string, limit int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return EmptyResponseApology
	}
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		const suffix = "..."
		cut := limit - len(suffix)
		if cut < 1 {
			cut = limit
		}
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:cut]))
		if cut < limit {
			text += suffix
		}
	}
	return text
}

// Fallback returns the deterministic reply used when generation is unavailable.
func Fallback(input string) string {
	return llm.CannedReply(input) + " " + UnavailableNote
}
