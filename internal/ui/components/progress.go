package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/pyqdeck/pyqdeck/internal/ui/theme"
)

// Segment is one colored share of a ProgressBar.
type Segment struct {
	Count int
	Color lipgloss.Style
}

// ProgressBar displays a horizontal bar split into segments proportional to
// their counts.
type ProgressBar struct {
	Label       string
	Segments    []Segment
	Total       int
	ShowPercent bool
	Width       int
}

// NewProgressBar creates a new progress bar. Space not covered by segments
// is drawn empty.
func NewProgressBar(label string, total int, width int, segments ...Segment) ProgressBar {
	return ProgressBar{
		Label:       label,
		Segments:    segments,
		Total:       total,
		ShowPercent: true,
		Width:       width,
	}
}

// widths returns the cell width of each segment and of the empty remainder.
func (p ProgressBar) widths(barWidth int) ([]int, int) {
	out := make([]int, len(p.Segments))
	if p.Total <= 0 {
		return out, barWidth
	}
	used := 0
	for i, s := range p.Segments {
		w := barWidth * max(s.Count, 0) / p.Total
		if used+w > barWidth {
			w = barWidth - used
		}
		out[i] = w
		used += w
	}
	return out, barWidth - used
}

// Percent returns the share of Total covered by segments, in [0, 1].
func (p ProgressBar) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	n := 0
	for _, s := range p.Segments {
		n += max(s.Count, 0)
	}
	return min(float64(n)/float64(p.Total), 1)
}

// View renders the progress bar.
func (p ProgressBar) View() string {
	var b strings.Builder

	if p.Label != "" {
		b.WriteString(theme.Body.Render(p.Label) + "  ")
	}

	labelWidth := lipgloss.Width(b.String())
	percentWidth := 0
	if p.ShowPercent {
		percentWidth = 6 // " 100%"
	}

	barWidth := max(p.Width-labelWidth-percentWidth, 4)
	widths, empty := p.widths(barWidth)
	for i, s := range p.Segments {
		b.WriteString(s.Color.Render(strings.Repeat("█", widths[i])))
	}
	b.WriteString(theme.NotStarted.Render(strings.Repeat("░", empty)))

	if p.ShowPercent {
		b.WriteString(theme.Subtitle.Render(fmt.Sprintf("  %d%%", int(p.Percent()*100))))
	}
	return b.String()
}
