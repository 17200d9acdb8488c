package impala

import (
	"math"
	"testing"
)

func TestVTraceOnPolicy(t *testing.T) {
	rewards := []float64{1, 0.5, -0.7, 2}
	values := []float64{0.3, -0.1, 0.2, 0.5}
	discounts := []float64{0.9, 0.9, 0, 0.9}
	bootstrap := 1.5
	clip := VTraceClip{Rho: 1, PGRho: 1, C: 1}

	res := VTrace(make([]float64, 4), discounts, rewards, values, bootstrap, clip)

	// Discounted returns, cut off by the terminal step.
	returns := []float64{
		1 + 0.9*(0.5+0.9*-0.7),
		0.5 + 0.9*-0.7,
		-0.7,
		2 + 0.9*1.5,
	}
	assertClose(t, "targets", res.Targets, returns)

	advantages := make([]float64, 4)
	for i, r := range returns {
		advantages[i] = r - values[i]
	}
	assertClose(t, "advantages", res.Advantages, advantages)
	assertClose(t, "rhos", res.Rhos, []float64{1, 1, 1, 1})
}

func TestVTraceTruncation(t *testing.T) {
	logRhos := []float64{math.Log(2), math.Log(0.5)}
	rewards := []float64{1, 2}
	values := []float64{0.5, 0.25}
	discounts := []float64{0.5, 0.5}
	bootstrap := 1.0

	res := VTrace(logRhos, discounts, rewards, values, bootstrap,
		VTraceClip{Rho: 1, PGRho: 1, C: 1})

	// Step 1: rho = c = 0.5.
	delta1 := 0.5 * (2 + 0.5*1 - 0.25)
	vs1 := 0.25 + delta1
	// Step 0: rho and c truncated from 2 to 1.
	delta0 := 1 * (1 + 0.5*0.25 - 0.5)
	vs0 := 0.5 + delta0 + 0.5*1*delta1

	assertClose(t, "targets", res.Targets, []float64{vs0, vs1})
	assertClose(t, "rhos", res.Rhos, []float64{1, 0.5})
	assertClose(t, "advantages", res.Advantages, []float64{
		1 * (1 + 0.5*vs1 - 0.5),
		0.5 * (2 + 0.5*1 - 0.25),
	})

	unclipped := VTrace(logRhos, discounts, rewards, values, bootstrap,
		VTraceClip{Rho: math.Inf(1), PGRho: math.Inf(1), C: math.Inf(1)})
	assertClose(t, "unclipped rhos", unclipped.Rhos, []float64{2, 0.5})
}

func TestParseCorrectionKind(t *testing.T) {
	for in, expected := range map[string]CorrectionKind{
		"":       VTraceCorrection,
		"vtrace": VTraceCorrection,
		"none":   NoCorrection,
	} {
		actual, err := ParseCorrectionKind(in)
		if err != nil {
			t.Fatal(err)
		}
		if actual != expected {
			t.Errorf("%q: expected %s but got %s", in, expected, actual)
		}
	}
	if _, err := ParseCorrectionKind("retrace"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
