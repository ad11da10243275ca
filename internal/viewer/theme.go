package viewer

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ersozo/re-dashboard/internal/channel"
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorActive  = lipgloss.Color("#2563eb")
)

// StateColor returns the color for a channel state.
func StateColor(s channel.State) lipgloss.Color {
	switch s {
	case channel.Ready:
		return ColorHealthy
	case channel.Connecting, channel.ReconnectWait:
		return ColorWarning
	case channel.Failed:
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// RatioColor colors a quality or performance ratio.
func RatioColor(r float64) lipgloss.Color {
	switch {
	case r >= 0.85:
		return ColorHealthy
	case r >= 0.6:
		return ColorWarning
	default:
		return ColorDanger
	}
}

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorDanger)
)
