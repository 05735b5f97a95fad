// ABOUTME: Scrollable chat transcript rendered in a bubbles viewport.
// ABOUTME: Wraps each turn to the panel width and marks degraded replies.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
)

// Speaker identifies who produced a chat entry.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerBuddy
	SpeakerSystem
)

type chatEntry struct {
	speaker  Speaker
	text     string
	degraded bool
}

// ChatPanelModel holds the visible conversation.
type ChatPanelModel struct {
	entries  []chatEntry
	viewport viewport.Model
	width    int
	height   int
}

// NewChatPanelModel returns an empty transcript.
func NewChatPanelModel() ChatPanelModel {
	return ChatPanelModel{viewport: viewport.New(80, 10)}
}

// Append adds a turn and scrolls to it.
func (m *ChatPanelModel) Append(speaker Speaker, text string, degraded bool) {
	m.entries = append(m.entries, chatEntry{speaker: speaker, text: text, degraded: degraded})
	m.syncViewport()
}

// Len returns the number of turns shown.
func (m ChatPanelModel) Len() int {
	return len(m.entries)
}

// SetSize sets the available dimensions and updates the viewport.
func (m *ChatPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-2, 1)
	m.viewport.Height = max(h-2, 1)
	m.syncViewport()
}

// ScrollUp moves the transcript back by half a page.
func (m *ChatPanelModel) ScrollUp() {
	m.viewport.HalfPageUp()
}

// ScrollDown moves the transcript forward by half a page.
func (m *ChatPanelModel) ScrollDown() {
	m.viewport.HalfPageDown()
}

// View renders the transcript inside a border.
func (m ChatPanelModel) View() string {
	return BorderStyle.
		Width(max(m.width-2, 1)).
		Height(max(m.height-2, 1)).
		Render(m.viewport.View())
}

func (m *ChatPanelModel) syncViewport() {
	wrap := lipgloss.NewStyle().Width(max(m.viewport.Width, 10))
	blocks := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		blocks = append(blocks, wrap.Render(formatTurn(e)))
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	m.viewport.GotoBottom()
}

func formatTurn(e chatEntry) string {
	switch e.speaker {
	case SpeakerUser:
		return UserStyle.Render("You: ") + e.text
	case SpeakerBuddy:
		line := AssistantStyle.Render("Buddy: ") + e.text
		if e.degraded {
			line += " " + DegradedStyle.Render("(degraded)")
		}
		return line
	default:
		return SystemStyle.Render(e.text)
	}
}
