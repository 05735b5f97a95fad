// ABOUTME: Bridge connecting the run supervisor to the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories for submitting input, following run events and ticking.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/buddy/workflow"
)

// Submitter starts runs. *workflow.Supervisor satisfies it.
type Submitter interface {
	Submit(ctx context.Context, sessionID, input string) *workflow.RunHandle
}

// SubmitCmd returns a tea.Cmd that submits input and waits for the reply.
// Cancelling ctx stops waiting; the supervisor still finishes the run.
func SubmitCmd(ctx context.Context, s Submitter, sessionID, input string) tea.Cmd {
	return func() tea.Msg {
		h := s.Submit(ctx, sessionID, input)
		out := h.Await(ctx)
		return ReplyMsg{Run: h.Run(), Output: out}
	}
}

// WaitForEventCmd returns a tea.Cmd that blocks for the next run event.
func WaitForEventCmd(ch <-chan workflow.RunEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return RunEventMsg{Event: evt}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
