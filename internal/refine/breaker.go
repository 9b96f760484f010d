package refine

import "fmt"

// Breaker is the retention circuit breaker. It holds no state beyond its
// threshold: every check is a pure computation over the pre-session mass
// and the live core mass handed to it.
type Breaker struct {
	Threshold float64
}

// Verdict is the result of one breaker evaluation.
type Verdict struct {
	Tripped bool    `json:"tripped"`
	Ratio   float64 `json:"ratio"`
	Reason  string  `json:"reason"`
}

// Check compares surviving core mass against the pre-session baseline.
// A session with an empty baseline can never trip: there is nothing to
// retain a fraction of.
func (b Breaker) Check(preMass, currentMass int) Verdict {
	if preMass <= 0 {
		return Verdict{
			Tripped: false,
			Ratio:   1,
			Reason:  "no pre-session core mass, breaker disabled",
		}
	}

	ratio := float64(currentMass) / float64(preMass)
	if ratio < b.Threshold {
		return Verdict{
			Tripped: true,
			Ratio:   ratio,
			Reason: fmt.Sprintf("core memory mass fell to %.1f%% of its pre-session baseline, below the %.1f%% retention threshold",
				ratio*100, b.Threshold*100),
		}
	}

	return Verdict{
		Tripped: false,
		Ratio:   ratio,
		Reason: fmt.Sprintf("core memory mass at %.1f%% of its pre-session baseline, within the %.1f%% retention threshold",
			ratio*100, b.Threshold*100),
	}
}
