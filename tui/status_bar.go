// ABOUTME: Implements a single-line status bar for the bottom of the TUI.
// ABOUTME: Displays the session, backend, turn count and the status of the run in flight.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/buddy/workflow"
)

// StatusBarModel displays session status in a single line.
type StatusBarModel struct {
	sessionID string
	backend   string
	turns     int
	status    workflow.Status
	startTime time.Time
	width     int
}

// NewStatusBarModel creates a status bar for one session.
func NewStatusBarModel(sessionID, backend string) StatusBarModel {
	return StatusBarModel{sessionID: sessionID, backend: backend}
}

// Start records that a run is in flight.
func (m *StatusBarModel) Start() {
	m.startTime = time.Now()
	m.status = workflow.StatusPending
}

// SetStatus shows the latest status of the run in flight.
func (m *StatusBarModel) SetStatus(s workflow.Status) {
	m.status = s
}

// Finish records a completed turn.
func (m *StatusBarModel) Finish(s workflow.Status) {
	m.status = s
	m.turns++
	m.startTime = time.Time{}
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the time since Start, or zero when idle.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

// formatElapsed renders seconds below a minute and minutes plus seconds above.
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	status := "idle"
	if m.status != "" {
		status = string(m.status)
	}
	if !m.startTime.IsZero() {
		status += " " + formatElapsed(m.Elapsed())
	}

	content := fmt.Sprintf("Session: %s | Backend: %s | Turns: %d | %s",
		m.sessionID, m.backend, m.turns, status)

	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, StatusBarStyle.Width(m.width).Render(content))
}
