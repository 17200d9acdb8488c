package impala

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestRMSProp(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	param := anydiff.NewVar(c.MakeVectorData([]float64{0, 0}))
	opt := &RMSProp{Params: []*anydiff.Var{param}, DecayRate: 0.5, Damping: 1e-3}

	grad := anydiff.Grad{param: c.MakeVectorData([]float64{2, -4})}
	out := opt.Transform(grad)

	// The squared averages are 0.5*4 and 0.5*16.
	expected := []float64{2 / (math.Sqrt(2) + 1e-3), -4 / (math.Sqrt(8) + 1e-3)}
	assertClose(t, "transformed", vectorData(out[param]), expected)
	assertClose(t, "state", opt.State()[0], []float64{2, 8})
}

func TestRMSPropState(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	params := []*anydiff.Var{
		anydiff.NewVar(c.MakeVector(2)),
		anydiff.NewVar(c.MakeVector(3)),
	}
	opt := NewRMSProp(params)
	state := opt.State()
	if len(state) != 2 || len(state[0]) != 2 || len(state[1]) != 3 {
		t.Fatal("unexpected initial state shape")
	}

	state[1][2] = 7
	if opt.State()[1][2] != 0 {
		t.Error("State should return a copy")
	}
	if err := opt.SetState(state); err != nil {
		t.Fatal(err)
	}
	if opt.State()[1][2] != 7 {
		t.Error("SetState did not apply")
	}

	if err := opt.SetState(OptimizerState{{1, 2}}); err == nil {
		t.Error("expected count mismatch error")
	}
	if err := opt.SetState(OptimizerState{{1, 2}, {1}}); err == nil {
		t.Error("expected length mismatch error")
	}
}
