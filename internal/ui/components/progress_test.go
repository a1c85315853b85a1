package components

import (
	"testing"

	"charm.land/lipgloss/v2"
	"github.com/stretchr/testify/assert"
)

func TestProgressBar_Widths(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		counts    []int
		wantWidth []int
		wantEmpty int
	}{
		{"empty total", 0, []int{3}, []int{0}, 20},
		{"half", 10, []int{5}, []int{10}, 10},
		{"two segments", 4, []int{1, 2}, []int{5, 10}, 5},
		{"over full is clamped", 2, []int{2, 2}, []int{20, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var segs []Segment
			for _, c := range tt.counts {
				segs = append(segs, Segment{Count: c, Color: lipgloss.NewStyle()})
			}
			bar := NewProgressBar("", tt.total, 20, segs...)
			widths, empty := bar.widths(20)
			assert.Equal(t, tt.wantWidth, widths)
			assert.Equal(t, tt.wantEmpty, empty)
		})
	}
}

func TestProgressBar_Percent(t *testing.T) {
	bar := NewProgressBar("Data Structures", 4, 40, Segment{Count: 1}, Segment{Count: 1})
	assert.InDelta(t, 0.5, bar.Percent(), 1e-9)
	assert.Contains(t, bar.View(), "50%")
	assert.Contains(t, bar.View(), "Data Structures")
}
