// Package theme provides the Lip Gloss color palette and reusable styles
// for the attendance TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Scan status colors.
var (
	ColorPending  = lipgloss.Color("#d97706")
	ColorApproved = lipgloss.Color("#16a34a")
	ColorRejected = lipgloss.Color("#dc2626")
	ColorUnknown  = lipgloss.Color("#9ca3af")
)

// Attendance rate thresholds.
var (
	ColorRateLow  = lipgloss.Color("#dc2626") // <50%
	ColorRateMid  = lipgloss.Color("#d97706") // 50-80%
	ColorRateHigh = lipgloss.Color("#22c55e") // >=80%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#3b82f6")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the color of a scan status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "pending":
		return ColorPending
	case "approved", "present":
		return ColorApproved
	case "rejected", "absent":
		return ColorRejected
	default:
		return ColorUnknown
	}
}

// StatusGlyph returns a glyph for a scan status.
func StatusGlyph(status string) string {
	switch status {
	case "pending":
		return "◌"
	case "approved", "present":
		return "✓"
	case "rejected", "absent":
		return "✗"
	default:
		return "·"
	}
}

// RateColor returns the color for an attendance rate in percent.
func RateColor(pct float64) lipgloss.Color {
	switch {
	case pct >= 80:
		return ColorRateHigh
	case pct >= 50:
		return ColorRateMid
	default:
		return ColorRateLow
	}
}

// Status renders status in its color.
func Status(status string) string {
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Render(StatusGlyph(status) + " " + status)
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
		Foreground(ColorDanger)
)
