package impala

import (
	"fmt"
	"math"
)

// CorrectionKind selects how the learner corrects for the
// lag between the behavior and target policies.
type CorrectionKind string

const (
	// VTraceCorrection uses truncated importance weights.
	VTraceCorrection CorrectionKind = "vtrace"

	// NoCorrection treats every trajectory as on-policy,
	// which is equivalent to V-trace with all ratios 1.
	NoCorrection CorrectionKind = "none"
)

// ParseCorrectionKind parses a correction name.
// The empty string selects VTraceCorrection.
func ParseCorrectionKind(s string) (CorrectionKind, error) {
	switch CorrectionKind(s) {
	case "", VTraceCorrection:
		return VTraceCorrection, nil
	case NoCorrection:
		return NoCorrection, nil
	default:
		return "", fmt.Errorf("unknown correction kind: %q", s)
	}
}

// VTraceClip stores the truncation levels for the
// importance weights.
//
// Use math.Inf(1) to disable a truncation.
type VTraceClip struct {
	// Rho truncates the weights on the temporal
	// difference errors.
	Rho float64

	// PGRho truncates the weights on the policy gradient
	// advantages.
	PGRho float64

	// C truncates the trace coefficients.
	C float64
}

// VTraceResult stores the outputs of VTrace.
type VTraceResult struct {
	// Targets are the value targets v_s.
	Targets []float64

	// Advantages are the policy gradient advantages.
	Advantages []float64

	// Rhos are the truncated importance weights.
	Rhos []float64
}

// VTrace computes off-policy corrected value targets and
// advantages for a single trajectory.
//
// The logRhos are log(pi(a_t|x_t)) - log(mu(a_t|x_t)).
// The discounts are gamma*(1-done_t), so that a terminal
// step cuts off everything after it.
// The bootstrap is the value estimate of the state after
// the final step.
//
// With every log ratio at 0, the targets are discounted
// returns and the advantages are returns minus values.
func VTrace(logRhos, discounts, rewards, values []float64, bootstrap float64,
	clip VTraceClip) *VTraceResult {
	n := len(values)
	if len(logRhos) != n || len(discounts) != n || len(rewards) != n {
		panic("mismatching sequence lengths")
	}

	res := &VTraceResult{
		Targets:    make([]float64, n),
		Advantages: make([]float64, n),
		Rhos:       make([]float64, n),
	}
	cs := make([]float64, n)
	for t, logRho := range logRhos {
		ratio := math.Exp(logRho)
		res.Rhos[t] = math.Min(clip.Rho, ratio)
		cs[t] = math.Min(clip.C, ratio)
	}

	var acc float64
	for t := n - 1; t >= 0; t-- {
		nextValue := bootstrap
		if t+1 < n {
			nextValue = values[t+1]
		}
		delta := res.Rhos[t] * (rewards[t] + discounts[t]*nextValue - values[t])
		acc = delta + discounts[t]*cs[t]*acc
		res.Targets[t] = values[t] + acc
	}

	for t, logRho := range logRhos {
		nextTarget := bootstrap
		if t+1 < n {
			nextTarget = res.Targets[t+1]
		}
		pgRho := math.Min(clip.PGRho, math.Exp(logRho))
		res.Advantages[t] = pgRho * (rewards[t] + discounts[t]*nextTarget - values[t])
	}

	return res
}
