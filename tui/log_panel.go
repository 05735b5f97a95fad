// ABOUTME: Implements a scrollable run event log using the bubbles viewport component.
// ABOUTME: Shows status changes and stage attempts with color-coded formatting.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"

	"github.com/2389-research/buddy/workflow"
)

// LogPanelModel is a scrollable log of run events.
type LogPanelModel struct {
	entries  []workflow.RunEvent
	max      int
	viewport viewport.Model
	width    int
	height   int
}

// NewLogPanelModel creates a log panel holding at most maxEntries events.
// If maxEntries is <= 0, it defaults to 200.
func NewLogPanelModel(maxEntries int) LogPanelModel {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return LogPanelModel{
		entries:  make([]workflow.RunEvent, 0, maxEntries),
		max:      maxEntries,
		viewport: viewport.New(40, 10),
	}
}

// Append adds an event, evicting the oldest entry at capacity.
func (m *LogPanelModel) Append(evt workflow.RunEvent) {
	if len(m.entries) >= m.max {
		m.entries = m.entries[1:]
	}
	m.entries = append(m.entries, evt)
	m.syncViewport()
}

// Len returns the number of entries in the log.
func (m LogPanelModel) Len() int {
	return len(m.entries)
}

// SetSize sets the available dimensions and updates the viewport.
func (m *LogPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// border plus title
	m.viewport.Width = max(w-2, 1)
	m.viewport.Height = max(h-3, 1)
	m.syncViewport()
}

// View renders the log panel.
func (m LogPanelModel) View() string {
	content := "No runs yet"
	if len(m.entries) > 0 {
		content = m.viewport.View()
	}
	return BorderStyle.
		Width(max(m.width-2, 1)).
		Height(max(m.height-2, 1)).
		Render(TitleStyle.Render("RUNS") + "\n" + content)
}

func (m *LogPanelModel) syncViewport() {
	lines := make([]string, 0, len(m.entries))
	for _, evt := range m.entries {
		lines = append(lines, formatEntry(evt))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

// formatEntry formats a single run event as a log line.
func formatEntry(evt workflow.RunEvent) string {
	ts := LogTimestampStyle.Render(evt.At.Format("15:04:05"))
	run := shortID(evt.RunID)

	if evt.Kind == workflow.EventAttempt && evt.Attempt != nil {
		a := evt.Attempt
		line := fmt.Sprintf("%s %s %s #%d %s", ts, run, a.Stage, a.Attempt, a.Outcome)
		if a.Outcome != workflow.OutcomeSuccess {
			return LogRetryStyle.Render(line)
		}
		return line
	}
	return fmt.Sprintf("%s %s %s", ts, run, StyleForStatus(evt.Status).Render(string(evt.Status)))
}

// shortID keeps the random tail of a ULID, which is what differs between runs
// started in the same millisecond.
func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
