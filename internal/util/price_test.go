package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{name: "basic rounding down", x: 1.2345, tick: 0.01, expected: 1.23},
		{name: "tie rounds away from zero", x: 1.235, tick: 0.01, expected: 1.24},
		{name: "negative tie rounds away from zero", x: -1.235, tick: 0.01, expected: -1.24},
		{name: "larger tick size", x: 1.27, tick: 0.05, expected: 1.25},
		{name: "exact multiple", x: 1.25, tick: 0.05, expected: 1.25},
		{name: "non-positive tick passthrough", x: 1.2345, tick: 0, expected: 1.2345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestRoundToCent(t *testing.T) {
	if got := RoundToCent(2.456); math.Abs(got-2.46) > 1e-10 {
		t.Errorf("RoundToCent(2.456) = %v, expected 2.46", got)
	}
}
