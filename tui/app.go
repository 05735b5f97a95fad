// ABOUTME: Top-level Bubble Tea AppModel for chatting with buddy in the terminal.
// ABOUTME: Composes the transcript, run log, prompt and status bar and routes supervisor results into them.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/buddy/workflow"
)

// HelpText lists the commands the prompt understands.
const HelpText = "Available commands:\n" +
	"  help  - Show this help message\n" +
	"  exit  - Exit the application\n" +
	"  Any other text will be processed by the AI agent"

const welcomeText = "=== Welcome to Buddy AI Agent ===\nType 'help' for available commands or 'exit' to quit"

// Options configures an AppModel.
type Options struct {
	SessionID string
	Backend   string
	// Events, when set, feeds the run log. Usually a subscription on the
	// supervisor's broadcaster.
	Events <-chan workflow.RunEvent
}

// AppModel is the top-level Bubble Tea model.
type AppModel struct {
	chat      ChatPanelModel
	log       LogPanelModel
	statusBar StatusBarModel
	input     textinput.Model

	submitter Submitter
	events    <-chan workflow.RunEvent
	ctx       context.Context
	sessionID string

	pending bool
	width   int
	height  int
}

// NewAppModel creates an AppModel bound to one session.
func NewAppModel(ctx context.Context, s Submitter, opts Options) AppModel {
	ti := textinput.New()
	ti.Prompt = "Buddy> "
	ti.Placeholder = "Ask me anything..."
	ti.CharLimit = 4000
	ti.Focus()

	chat := NewChatPanelModel()
	chat.Append(SpeakerSystem, welcomeText, false)

	return AppModel{
		chat:      chat,
		log:       NewLogPanelModel(200),
		statusBar: NewStatusBarModel(opts.SessionID, opts.Backend),
		input:     ti,
		submitter: s,
		events:    opts.Events,
		ctx:       ctx,
		sessionID: opts.SessionID,
	}
}

// Init implements tea.Model.
func (m AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.events != nil {
		cmds = append(cmds, WaitForEventCmd(m.events))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case RunEventMsg:
		return m.handleRunEvent(msg)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case ReplyMsg:
		return m.handleReply(msg)

	case TickMsg:
		if !m.pending {
			return m, nil
		}
		return m, TickCmd(time.Second)

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	// status bar and prompt take one line each
	bodyHeight := m.height - 2
	logWidth := m.width * 30 / 100
	chatWidth := m.width - logWidth

	m.chat.SetSize(chatWidth, bodyHeight)
	m.log.SetSize(logWidth, bodyHeight)
	m.statusBar.SetWidth(m.width)

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.chat.View(), m.log.View())

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusBar.View())
	return b.String()
}

func (m AppModel) handleRunEvent(msg RunEventMsg) (tea.Model, tea.Cmd) {
	evt := msg.Event
	m.log.Append(evt)
	if m.pending && evt.SessionID == m.sessionID && evt.Kind == workflow.EventStatus {
		m.statusBar.SetStatus(evt.Status)
	}
	return m, WaitForEventCmd(m.events)
}

func (m AppModel) handleReply(msg ReplyMsg) (tea.Model, tea.Cmd) {
	m.pending = false
	m.chat.Append(SpeakerBuddy, msg.Output, msg.Run.Degraded)
	m.statusBar.Finish(msg.Run.Status)
	return m, nil
}

func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyPgUp:
		m.chat.ScrollUp()
		return m, nil
	case tea.KeyPgDown:
		m.chat.ScrollDown()
		return m, nil
	case tea.KeyEnter:
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one line from the prompt. Blank lines are ignored and only
// one run is in flight at a time.
func (m AppModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.pending {
		return m, nil
	}
	m.input.Reset()

	switch strings.ToLower(line) {
	case "exit", "quit":
		return m, tea.Quit
	case "help":
		m.chat.Append(SpeakerSystem, HelpText, false)
		return m, nil
	}

	m.pending = true
	m.chat.Append(SpeakerUser, line, false)
	m.statusBar.Start()
	return m, tea.Batch(
		SubmitCmd(m.ctx, m.submitter, m.sessionID, line),
		TickCmd(time.Second),
	)
}
