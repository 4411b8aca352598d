package statview

import "github.com/charmbracelet/lipgloss"

// Theme holds all colors used by the dashboard. Views reference theme
// fields, never raw color values.
type Theme struct {
	Fg       lipgloss.Color // default text
	FgDim    lipgloss.Color // de-emphasized text (labels, separators, hints)
	FgBright lipgloss.Color // emphasized text (series identities, values)
	Border   lipgloss.Color // dividers, separators

	Accent   lipgloss.Color // focus indicators, selection
	Healthy  lipgloss.Color // connected, all clear
	Warning  lipgloss.Color // degraded, elevated latency
	Critical lipgloss.Color // disconnected, error responses

	GraphGauge   lipgloss.Color // gauge sparkline
	GraphLatency lipgloss.Color // lcall latency sparkline
}

// TerminalTheme returns a theme using ANSI colors that inherits the
// terminal background.
func TerminalTheme() Theme {
	return Theme{
		Fg:           lipgloss.Color("7"),
		FgDim:        lipgloss.Color("8"),
		FgBright:     lipgloss.Color("15"),
		Border:       lipgloss.Color("8"),
		Accent:       lipgloss.Color("4"),
		Healthy:      lipgloss.Color("2"),
		Warning:      lipgloss.Color("3"),
		Critical:     lipgloss.Color("1"),
		GraphGauge:   lipgloss.Color("12"),
		GraphLatency: lipgloss.Color("13"),
	}
}

// connColor returns a color for the client's connection state.
func (t Theme) connColor(connected bool) lipgloss.Color {
	if connected {
		return t.Healthy
	}
	return t.Critical
}

// retcodeColor returns a color graded by the fraction of non-zero retcodes
// in a merged remote/local-call bucket's Results map (spec §3's MResult is
// keyed by retcode; 0 is the success code by convention elsewhere in the
// pipeline's sibling implementations).
func retcodeColor(errRatio float64, theme *Theme) lipgloss.Color {
	switch {
	case errRatio >= 0.1:
		return theme.Critical
	case errRatio > 0:
		return theme.Warning
	default:
		return theme.Fg
	}
}
