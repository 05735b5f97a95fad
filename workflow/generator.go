// ABOUTME: Default generate stage: a bounded tool-calling loop over an llm.Backend.
// ABOUTME: Works on a scratch copy of the history so retried attempts never see each other's tool results.

package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/llm"
	"github.com/2389-research/buddy/logging"
	"github.com/2389-research/buddy/tools"
)

// DefaultMaxToolRounds bounds model turns that request tools within one attempt.
const DefaultMaxToolRounds = 5

// BackendGenerator implements Generator with a tool loop.
type BackendGenerator struct {
	Backend       llm.Backend
	Tools         *tools.Registry
	Model         string
	SystemPrompt  string
	MaxToolRounds int
	Logger        zerolog.Logger
}

// Generate asks the backend for a reply, running requested tools and feeding
// their results back until the backend answers with text.
func (g *BackendGenerator) Generate(ctx context.Context, input string, history []llm.Message) (Generation, error) {
	if g.Backend == nil {
		return Generation{}, Fatal(errors.New("generator has no backend"))
	}
	logger := logging.Component(g.Logger, "generator")
	maxRounds := g.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	prompt := g.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(prompt))
	for _, m := range llm.PairSafe(history) {
		messages = append(messages, m.Clone())
	}
	messages = append(messages, llm.UserMessage(input))

	var defs []llm.ToolDefinition
	if g.Tools != nil {
		defs = g.Tools.Definitions()
	}

	var gen Generation
	for round := 0; ; round++ {
		resp, err := g.Backend.Complete(ctx, llm.Request{
			Model:    g.Model,
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return Generation{}, err
		}
		if resp == nil {
			return Generation{}, Fatal(errors.New("backend returned no response"))
		}
		gen.Live = !resp.Offline

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			gen.Text = resp.Text()
			return gen, nil
		}
		if g.Tools == nil {
			return Generation{}, Fatal(fmt.Errorf("backend requested %d tool calls but no tools are registered", len(calls)))
		}
		if round >= maxRounds {
			// No usable text; the pipeline substitutes its fallback.
			logger.Warn().Str("action", "tool_rounds_exceeded").
				Int("rounds", round).Msg("model kept requesting tools")
			gen.Text = ""
			return gen, nil
		}

		assistant := resp.Message.Clone()
		assistant.Role = llm.RoleAssistant
		messages = append(messages, assistant)
		gen.Context = append(gen.Context, assistant)

		for _, call := range calls {
			inv := g.Tools.Dispatch(ctx, call)
			gen.ToolCalls++
			ev := logger.Debug()
			if inv.Failed() {
				ev = logger.Warn().Err(inv.Err)
			}
			ev.Str("action", "tool_call").
				Str("tool", call.Name).Str("call_id", call.ID).Msg("tool dispatched")

			msg := inv.Message()
			messages = append(messages, msg)
			gen.Context = append(gen.Context, msg)
		}
	}
}
