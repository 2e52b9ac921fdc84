package ui

import (
	"fmt"
	"math"
	"strings"
)

// Clock formats seconds as m:ss, or h:mm:ss from an hour up.
func Clock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ProgressBar renders a bar of width cells filled to current/duration.
// An unknown duration renders an empty bar.
func ProgressBar(current, duration float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if duration > 0 {
		frac := min(1, max(0, current/duration))
		filled = int(frac * float64(width))
	}
	return ProgressFilledStyle.Render(strings.Repeat("━", filled)) +
		ProgressEmptyStyle.Render(strings.Repeat("─", width-filled))
}
