package statview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

func mutedStyle(t *Theme) lipgloss.Style  { return lipgloss.NewStyle().Foreground(t.FgDim) }
func accentStyle(t *Theme) lipgloss.Style { return lipgloss.NewStyle().Foreground(t.Accent) }

// Truncate shortens a plain (non-styled) string to maxLen, appending "…" if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen == 1 {
		return "…"
	}
	return string(runes[:maxLen-1]) + "…"
}

// centerText pads a styled string to center it within totalW.
func centerText(s string, totalW int) string {
	w := lipgloss.Width(s)
	if w >= totalW {
		return s
	}
	pad := (totalW - w) / 2
	return strings.Repeat(" ", pad) + s
}

// renderLabeledDivider draws a horizontal rule with a centered label, used
// to separate the gauge and lcall panels.
func renderLabeledDivider(label string, w int, theme *Theme) string {
	divStyle := lipgloss.NewStyle().Foreground(theme.Border)
	lblStyle := lipgloss.NewStyle().Foreground(theme.FgDim)

	lbl := " " + label + " "
	lblLen := len(lbl)
	side := (w - lblLen) / 2
	if side < 1 {
		return divStyle.Render(strings.Repeat("─", w))
	}
	right := w - side - lblLen
	return divStyle.Render(strings.Repeat("─", side)) + lblStyle.Render(lbl) + divStyle.Render(strings.Repeat("─", right))
}

// formatCount formats a raw gauge/lcall value as a grouped decimal (values
// here are arbitrary business or resource metric magnitudes, not byte
// counts, so humanize.Bytes's binary suffixes would mislead).
func formatCount(v int64) string {
	return humanize.Comma(v)
}

// formatLatencyMs formats an average response time in milliseconds.
func formatLatencyMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%.1fms", ms)
}
