package statview

import (
	"math"
	"testing"
)

func TestSelectCeiling(t *testing.T) {
	tests := []struct {
		name     string
		peak     float64
		knownMax float64
		want     float64
	}{
		{"known max wins regardless of peak", 5, 100, 100},
		{"zero peak auto-scales to 10", 0, 0, 10},
		{"peak 9 picks step 15", 9, 0, 15},
		{"peak 64 picks step 100", 64, 0, 100},
		{"peak exceeds top step auto-scales", 12000, 0, 12000 / 0.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectCeiling(tt.peak, tt.knownMax)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("selectCeiling(%g, %g) = %g, want %g", tt.peak, tt.knownMax, got, tt.want)
			}
		})
	}
}

func TestResampleUpsampleDownsample(t *testing.T) {
	down := resample([]float64{0, 10, 0, 10}, 2)
	if len(down) != 2 || down[0] != 5 || down[1] != 5 {
		t.Errorf("downsample = %v, want [5 5]", down)
	}

	up := resample([]float64{0, 10}, 3)
	if len(up) != 3 || up[0] != 0 || up[2] != 10 {
		t.Errorf("upsample = %v, want [0 _ 10]", up)
	}
}

func TestSparklineProducesRequestedWidth(t *testing.T) {
	top, bot := Sparkline([]float64{1, 2, 3, 4, 5}, 10, "12", 0)
	if got := len([]rune(stripSGR(top))); got != 10 {
		t.Errorf("top width = %d, want 10", got)
	}
	if got := len([]rune(stripSGR(bot))); got != 10 {
		t.Errorf("bot width = %d, want 10", got)
	}
}

// stripSGR strips a lipgloss-rendered ANSI SGR wrapper for a width check
// (ANSI-aware width isn't the point of this test; the rune count inside
// the escape sequences is).
func stripSGR(s string) string {
	var out []rune
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
