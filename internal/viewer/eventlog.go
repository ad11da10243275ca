package viewer

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ersozo/re-dashboard/internal/channel"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

const maxEvents = 200

// Event is a single line in the event log.
type Event struct {
	Time    time.Time
	Kind    string // "chan", "sess", "err"
	Message string
}

// EventLog records channel transitions and session changes seen in
// published states.
type EventLog struct {
	Events []Event
	Offset int // scroll offset from the bottom
}

// Add appends an event and caps the buffer.
func (l *EventLog) Add(kind, message string) {
	l.Events = append(l.Events, Event{Time: time.Now(), Kind: kind, Message: message})
	if len(l.Events) > maxEvents {
		l.Events = l.Events[len(l.Events)-maxEvents:]
	}
	l.Offset = 0
}

func (l *EventLog) ScrollUp(n int) {
	l.Offset = min(l.Offset+n, max(len(l.Events)-1, 0))
}

func (l *EventLog) ScrollDown(n int) {
	l.Offset = max(l.Offset-n, 0)
}

// Observe logs what changed between two published states.
func (l *EventLog) Observe(prev, next snapshot.State) {
	if next.Session.ID != prev.Session.ID && next.Session.ID != "" {
		l.Add("sess", fmt.Sprintf("session %s: %s %s, %d units",
			shortID(next.Session.ID), next.Session.Mode, next.Session.View, len(next.Session.Entities)))
	}

	before := make(map[string]channel.Status, len(prev.Channels))
	if next.Session.ID == prev.Session.ID {
		for _, c := range prev.Channels {
			before[c.EntityID] = c
		}
	}
	for _, c := range next.Channels {
		old, ok := before[c.EntityID]
		if ok && old.State == c.State {
			continue
		}
		msg := fmt.Sprintf("%s → %s", c.EntityID, c.State)
		if c.State == channel.ReconnectWait && c.LastError != "" {
			msg += fmt.Sprintf(" (attempt %d: %s)", c.Attempts, c.LastError)
		}
		l.Add("chan", msg)
	}

	if next.Error != "" && next.Error != prev.Error {
		l.Add("err", next.Error)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case "chan":
		return ColorActive
	case "err":
		return ColorDanger
	case "sess":
		return ColorHealthy
	default:
		return ColorDimmed
	}
}

// View renders the log as an overlay panel.
func (l EventLog) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := StyleHeader.Render(" EVENTS ")
	help := StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d events", len(l.Events)))
	panel := lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder)

	if len(l.Events) == 0 {
		body := StyleDimmed.Render("  No events recorded yet.")
		return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(l.Events)-l.Offset, 0)
	start := max(end-visible, 0)

	lines := make([]string, 0, end-start)
	for _, e := range l.Events[start:end] {
		ts := StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(5).Render(e.Kind)
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, truncate(e.Message, max(innerW-24, 10))))
	}

	more := ""
	if l.Offset > 0 {
		more = StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", l.Offset))
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}
