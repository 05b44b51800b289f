package components

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const (
	meterLabelWidth = 6 // "유창성" is six cells
	meterValueWidth = 5 // "10/10"
)

// Meter is a horizontal bar between a fixed-width label and a value, so
// stacked meters line up.
type Meter struct {
	Label string
	Ratio float64
	Value string
	Fill  color.Color
	Width int
}

// MemorizedMeter shows how many of today's sentences are memorized.
func MemorizedMeter(memorized, total, width int) Meter {
	ratio := 0.0
	if total > 0 {
		ratio = float64(memorized) / float64(total)
	}
	return Meter{
		Label: "암기",
		Ratio: ratio,
		Value: fmt.Sprintf("%d/%d", memorized, total),
		Fill:  theme.Primary,
		Width: width,
	}
}

// ScoreMeter shows a 0-100 feedback score, colored by band.
func ScoreMeter(label string, score, width int) Meter {
	score = min(max(score, 0), 100)
	return Meter{
		Label: label,
		Ratio: float64(score) / 100,
		Value: strconv.Itoa(score),
		Fill:  scoreColor(score),
		Width: width,
	}
}

func scoreColor(score int) color.Color {
	switch {
	case score >= 80:
		return theme.Success
	case score >= 50:
		return theme.Accent
	}
	return theme.Error
}

// View renders the meter in exactly Width cells when Width leaves room for
// a four-cell bar.
func (m Meter) View() string {
	label := m.Label + strings.Repeat(" ", max(meterLabelWidth-lipgloss.Width(m.Label), 0))
	value := fmt.Sprintf("%*s", meterValueWidth, m.Value)

	barWidth := max(m.Width-lipgloss.Width(label)-lipgloss.Width(value)-2, 4)
	filled := min(max(int(float64(barWidth)*m.Ratio+0.5), 0), barWidth)

	fill := m.Fill
	if fill == nil {
		fill = theme.Secondary
	}
	bar := lipgloss.NewStyle().Background(fill).Render(strings.Repeat(" ", filled)) +
		lipgloss.NewStyle().Background(theme.Border).Render(strings.Repeat(" ", barWidth-filled))

	return lipgloss.NewStyle().Foreground(theme.Text).Render(label) + " " + bar + " " +
		lipgloss.NewStyle().Foreground(theme.TextDim).Render(value)
}
