// ABOUTME: Defines lipgloss styles for the chat transcript, event log and status bar.
// ABOUTME: Provides StyleForStatus to map run statuses to their display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/buddy/workflow"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Chat speakers
	UserStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	AssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	SystemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	DegradedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	// Run statuses
	PendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	// Event log
	LogTimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LogRetryStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// StyleForStatus returns the lipgloss style for a run status.
func StyleForStatus(status workflow.Status) lipgloss.Style {
	switch status {
	case workflow.StatusPending:
		return PendingStyle
	case workflow.StatusPreprocessing, workflow.StatusGenerating, workflow.StatusPostprocessing:
		return RunningStyle
	case workflow.StatusCompleted:
		return CompletedStyle
	case workflow.StatusFailed:
		return FailedStyle
	default:
		return PendingStyle
	}
}
