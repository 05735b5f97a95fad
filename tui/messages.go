// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps a supervisor result or run event for the tea.Msg interface.
package tui

import (
	"time"

	"github.com/2389-research/buddy/workflow"
)

// ReplyMsg carries the final text of a submitted run.
type ReplyMsg struct {
	Run    workflow.Run
	Output string
}

// RunEventMsg wraps a workflow.RunEvent for the Bubble Tea message loop.
type RunEventMsg struct {
	Event workflow.RunEvent
}

// eventsClosedMsg signals that the event subscription ended.
type eventsClosedMsg struct{}

// TickMsg is sent periodically to update the elapsed timer.
type TickMsg struct {
	Time time.Time
}
