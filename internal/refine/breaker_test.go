package refine

import (
	"strings"
	"testing"
)

func TestBreakerCheck(t *testing.T) {
	b := Breaker{Threshold: 0.6}

	tests := []struct {
		name        string
		preMass     int
		currentMass int
		wantTripped bool
		wantRatio   float64
	}{
		{"empty baseline disables breaker", 0, 0, false, 1},
		{"negative baseline disables breaker", -5, 100, false, 1},
		{"no loss", 1000, 1000, false, 1},
		{"growth", 1000, 1200, false, 1.2},
		{"above threshold", 1000, 750, false, 0.75},
		{"exactly at threshold holds", 1000, 600, false, 0.6},
		{"just below threshold trips", 1000, 599, true, 0.599},
		{"half gone trips", 1000, 500, true, 0.5},
		{"everything gone trips", 1000, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := b.Check(tt.preMass, tt.currentMass)
			if v.Tripped != tt.wantTripped {
				t.Errorf("Tripped = %v, want %v", v.Tripped, tt.wantTripped)
			}
			if v.Ratio != tt.wantRatio {
				t.Errorf("Ratio = %g, want %g", v.Ratio, tt.wantRatio)
			}
			if v.Reason == "" {
				t.Error("Reason should never be empty")
			}
		})
	}
}

func TestBreakerCheck_ReasonNamesThreshold(t *testing.T) {
	v := Breaker{Threshold: 0.6}.Check(1000, 500)
	if !v.Tripped {
		t.Fatal("expected trip")
	}
	if !strings.Contains(v.Reason, "50.0%") || !strings.Contains(v.Reason, "60.0%") {
		t.Errorf("reason should carry both percentages, got %q", v.Reason)
	}
}
