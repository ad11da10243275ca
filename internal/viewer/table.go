package viewer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ersozo/re-dashboard/internal/channel"
	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

// row is one unit's line in the table. Ratios are nil when the payload does
// not carry them.
type row struct {
	unit        string
	success     int
	fail        int
	total       int
	quality     *float64
	performance *float64
	oee         *float64
	note        string
}

func ratio(f float64) *float64 { return &f }

// decodeRow reads a payload according to the session's view. Null or
// undecodable payloads produce a row with a note instead of figures.
func decodeRow(view protocol.ViewKind, unit string, raw json.RawMessage) row {
	r := row{unit: unit}
	if len(raw) == 0 || string(raw) == "null" {
		r.note = "no data"
		return r
	}

	switch view {
	case protocol.ViewHourly:
		p, err := protocol.DecodeHourly(raw)
		if err != nil {
			r.note = "unreadable payload"
			return r
		}
		r.success, r.fail, r.total = p.TotalSuccess, p.TotalFail, p.TotalQty
		r.quality = ratio(p.TotalQuality)
		r.performance = ratio(p.TotalPerformance)
		r.oee = ratio(p.TotalOEE)
		r.note = fmt.Sprintf("%d h", len(p.HourlyData))

	case protocol.ViewReport:
		u, err := protocol.DecodeReportUnit(raw)
		if err != nil {
			r.note = "unreadable payload"
			return r
		}
		r.success, r.fail, r.total = u.TotalSuccess, u.TotalFail, u.TotalQty
		r.quality = ratio(u.Quality)
		r.note = fmt.Sprintf("perf sum %.2f", u.PerformanceSum)

	default:
		p, err := protocol.DecodeStandard(raw)
		if err != nil {
			r.note = "unreadable payload"
			return r
		}
		s := p.Summary
		r.success, r.fail, r.total = s.TotalSuccess, s.TotalFail, s.TotalQty
		r.quality = ratio(s.TotalQuality)
		if s.TotalPerformance > 0 {
			r.performance = ratio(s.TotalPerformance)
			r.oee = ratio(s.TotalPerformance * s.TotalQuality)
		}
		r.note = fmt.Sprintf("%d models", len(p.Models))
	}
	return r
}

const (
	colUnit  = 16
	colCount = 9
	colRatio = 8
	colState = 15
)

func pad(s string, w int) string {
	return lipgloss.NewStyle().Width(w).Render(s)
}

func padRight(s string, w int) string {
	return lipgloss.NewStyle().Width(w).Align(lipgloss.Right).Render(s)
}

func renderRatio(r *float64) string {
	if r == nil {
		return padRight("-", colRatio)
	}
	s := fmt.Sprintf("%.1f%%", *r*100)
	return lipgloss.NewStyle().Foreground(RatioColor(*r)).Render(padRight(s, colRatio))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// renderTable lists every selected unit, including those not yet covered.
func renderTable(st snapshot.State) string {
	states := make(map[string]channel.Status, len(st.Channels))
	for _, c := range st.Channels {
		states[c.EntityID] = c
	}
	historical := st.Session.Mode == protocol.ModeHistorical

	header := pad("UNIT", colUnit) +
		padRight("OK", colCount) +
		padRight("NG", colCount) +
		padRight("TOTAL", colCount) +
		padRight("QUAL", colRatio) +
		padRight("PERF", colRatio) +
		padRight("OEE", colRatio) + "  "
	if !historical {
		header += pad("CHANNEL", colState)
	}
	header += "NOTE"

	lines := []string{StyleHeader.Render(header)}
	for _, unit := range st.Session.Entities {
		raw, ok := st.Snapshot.Payload(unit)
		var r row
		if ok {
			r = decodeRow(st.Session.View, unit, raw)
		} else {
			r = row{unit: unit, note: "waiting"}
		}

		line := pad(truncate(unit, colUnit-1), colUnit)
		if r.quality != nil || r.total > 0 {
			line += padRight(fmt.Sprint(r.success), colCount) +
				padRight(fmt.Sprint(r.fail), colCount) +
				padRight(fmt.Sprint(r.total), colCount)
		} else {
			line += strings.Repeat(" ", colCount*3)
		}
		line += renderRatio(r.quality) + renderRatio(r.performance) + renderRatio(r.oee) + "  "

		if !historical {
			cs, ok := states[unit]
			label := "-"
			color := ColorDimmed
			if ok {
				label = cs.State.String()
				if cs.Attempts > 0 {
					label += fmt.Sprintf(" (%d)", cs.Attempts)
				}
				color = StateColor(cs.State)
			}
			line += lipgloss.NewStyle().Foreground(color).Render(pad(label, colState))
		}
		line += StyleDimmed.Render(r.note)
		lines = append(lines, line)
	}

	if st.Session.View == protocol.ViewReport && st.Snapshot != nil && len(st.Snapshot.Aggregate) > 0 {
		if s, err := protocol.DecodeReportSummary(st.Snapshot.Aggregate); err == nil {
			lines = append(lines, "", StyleHeader.Render(fmt.Sprintf(
				"TOTAL  %d produced  %d ok  %d ng  quality %.1f%%  performance %.1f%%",
				s.TotalProduction, s.TotalSuccess, s.TotalFail,
				s.WeightedQuality*100, s.WeightedPerformance*100)))
		}
	}
	return strings.Join(lines, "\n")
}
