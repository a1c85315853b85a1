package theme

import (
	"charm.land/lipgloss/v2"
)

// Color palette
var (
	Primary   = lipgloss.Color("#6366F1") // Indigo
	Secondary = lipgloss.Color("#14B8A6") // Teal
	Accent    = lipgloss.Color("#F59E0B") // Amber
	Success   = lipgloss.Color("#22C55E") // Green
	Error     = lipgloss.Color("#F43F5E") // Rose
	Text      = lipgloss.Color("#F8FAFC") // White
	TextDim   = lipgloss.Color("#94A3B8") // Slate
	Border    = lipgloss.Color("#334155") // Slate
)

// Typography
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(TextDim)

	Body = lipgloss.NewStyle().
		Foreground(Text)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)

	Label = lipgloss.NewStyle().
		Foreground(TextDim).
		Width(14)

	ID = lipgloss.NewStyle().
		Foreground(Secondary)
)

// Messages
var (
	OK = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	Warn = lipgloss.NewStyle().
		Foreground(Accent)

	Err = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)
)

// Practice status
var (
	NotStarted = lipgloss.NewStyle().
			Foreground(TextDim)

	Practiced = lipgloss.NewStyle().
			Foreground(Secondary)

	Mastered = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)
)

// Card frames a block of output.
var Card = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Border).
	Padding(0, 1)

// Status renders a practice status name in its color.
func Status(name string) string {
	switch name {
	case "mastered":
		return Mastered.Render(name)
	case "practiced":
		return Practiced.Render(name)
	default:
		return NotStarted.Render(name)
	}
}

// Field renders a "label  value" line.
func Field(label, value string) string {
	return Label.Render(label) + Body.Render(value)
}
