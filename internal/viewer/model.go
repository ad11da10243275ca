// Package viewer is a terminal front end for the sync engine. It renders the
// published state as a table and turns key presses into session commands.
package viewer

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/session"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

// Controller is the part of session.Controller the viewer drives.
type Controller interface {
	Start(p session.Params) error
	Restart() error
	Current() (session.Params, bool)
}

// Source is the read side of the publisher.
type Source interface {
	State() snapshot.State
	Subscribe() (<-chan snapshot.State, func())
}

// stateMsg carries a newly published state.
type stateMsg snapshot.State

// closedMsg is sent when the publisher has closed.
type closedMsg struct{}

// actionMsg reports the result of a session command.
type actionMsg struct {
	action string
	err    error
}

// Model is the root Bubble Tea model.
type Model struct {
	ctrl    Controller
	updates <-chan snapshot.State
	cancel  func()

	keys   KeyMap
	width  int
	height int

	state      snapshot.State
	actionErr  string
	closed     bool
	events     EventLog
	showEvents bool
}

// New subscribes to src. The subscription is released when the user quits.
func New(ctrl Controller, src Source) Model {
	updates, cancel := src.Subscribe()
	return Model{
		ctrl:    ctrl,
		updates: updates,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		state:   src.State(),
	}
}

// Init starts waiting for published states.
func (m Model) Init() tea.Cmd {
	return waitForState(m.updates)
}

func waitForState(ch <-chan snapshot.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return stateMsg(st)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case stateMsg:
		next := snapshot.State(msg)
		m.events.Observe(m.state, next)
		m.state = next
		return m, waitForState(m.updates)

	case closedMsg:
		m.closed = true
		return m, nil

	case actionMsg:
		m.actionErr = ""
		if msg.err != nil {
			m.actionErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showEvents {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Events):
			m.showEvents = false
			return m, nil
		case key.Matches(msg, m.keys.Up):
			m.events.ScrollUp(1)
			return m, nil
		case key.Matches(msg, m.keys.Down):
			m.events.ScrollDown(1)
			return m, nil
		}
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Events):
		m.showEvents = true
		return m, nil

	case key.Matches(msg, m.keys.Restart):
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return actionMsg{action: "restart", err: ctrl.Restart()}
		}

	case key.Matches(msg, m.keys.ToggleView):
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return actionMsg{action: "switch view", err: toggleView(ctrl)}
		}
	}
	return m, nil
}

// toggleView rebuilds the session with the other per-unit view. A report
// session switches to the standard view.
func toggleView(ctrl Controller) error {
	p, ok := ctrl.Current()
	if !ok {
		return session.ErrNoSession
	}
	if p.View == protocol.ViewStandard {
		p.View = protocol.ViewHourly
	} else {
		p.View = protocol.ViewStandard
	}
	return ctrl.Start(p)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showEvents {
		return lipgloss.JoinVertical(lipgloss.Left, m.renderStatusBar(), m.events.View(m.width, m.height-3))
	}

	sections := []string{
		m.renderStatusBar(),
		renderTable(m.state),
	}
	if m.state.Error != "" {
		sections = append(sections, "", StyleError.Render("ERROR "+m.state.Error))
	}
	if m.actionErr != "" {
		sections = append(sections, StyleError.Render(m.actionErr))
	}
	if m.closed {
		sections = append(sections, StyleDimmed.Render("engine stopped"))
	}
	sections = append(sections, "", StyleDimmed.Render("  "+m.keys.Help()))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStatusBar() string {
	width := max(m.width, 40)
	st := m.state

	var activity string
	switch {
	case st.Error != "":
		activity = lipgloss.NewStyle().Foreground(ColorDanger).Render("✗ error")
	case st.Loading:
		activity = lipgloss.NewStyle().Foreground(ColorWarning).Render("◌ loading")
	case st.Updating:
		activity = lipgloss.NewStyle().Foreground(ColorActive).Render("● updating")
	case st.Terminal:
		activity = lipgloss.NewStyle().Foreground(ColorDimmed).Render("✓ complete")
	default:
		activity = lipgloss.NewStyle().Foreground(ColorHealthy).Render("○ live")
	}

	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	content := activity + sep + fmt.Sprintf("%s %s", st.Session.Mode, st.Session.View)
	if !st.Session.Start.IsZero() {
		content += sep + fmt.Sprintf("%s → %s",
			st.Session.Start.Local().Format("01-02 15:04"),
			st.Session.End.Local().Format("01-02 15:04"))
	}
	content += sep + fmt.Sprintf("v%d", st.Version)
	if st.LastUpdateAt != nil {
		content += sep + "updated " + st.LastUpdateAt.Local().Format("15:04:05")
	}
	if len(st.Session.ID) >= 8 {
		content += sep + StyleDimmed.Render(st.Session.ID[:8])
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(content)
}
