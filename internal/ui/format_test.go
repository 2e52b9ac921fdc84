package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestClock(t *testing.T) {
	cases := map[float64]string{
		0:      "0:00",
		5.9:    "0:05",
		75:     "1:15",
		3600:   "1:00:00",
		3725.5: "1:02:05",
		-3:     "0:00",
	}
	for in, want := range cases {
		if got := Clock(in); got != want {
			t.Errorf("Clock(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressBarWidth(t *testing.T) {
	for _, tc := range []struct{ cur, dur float64 }{{0, 100}, {50, 100}, {150, 100}, {10, 0}} {
		bar := ProgressBar(tc.cur, tc.dur, 20)
		if w := lipgloss.Width(bar); w != 20 {
			t.Errorf("ProgressBar(%v, %v) width = %d, want 20", tc.cur, tc.dur, w)
		}
	}
	if ProgressBar(1, 2, 0) != "" {
		t.Error("zero width should render nothing")
	}
}
