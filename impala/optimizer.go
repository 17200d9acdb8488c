package impala

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
)

// OptimizerState is the persistent state of an Optimizer,
// with one slice per parameter in parameter order.
type OptimizerState [][]float64

// An Optimizer transforms gradients before the learner
// applies them.
//
// The learner serializes all calls, so implementations
// need not be safe for concurrent use.
type Optimizer interface {
	anysgd.Transformer

	// State returns a copy of the optimizer's state.
	State() OptimizerState

	// SetState replaces the optimizer's state.
	// It fails if the shape of s does not match.
	SetState(s OptimizerState) error
}

// Vanilla is an Optimizer which leaves gradients alone.
type Vanilla struct{}

// Transform returns g unchanged.
func (v Vanilla) Transform(g anydiff.Grad) anydiff.Grad {
	return g
}

// State returns an empty state.
func (v Vanilla) State() OptimizerState {
	return OptimizerState{}
}

// SetState accepts only an empty state.
func (v Vanilla) SetState(s OptimizerState) error {
	for _, x := range s {
		if len(x) != 0 {
			return fmt.Errorf("vanilla optimizer: unexpected state")
		}
	}
	return nil
}

// RMSProp scales gradients by a running estimate of their
// root mean square.
//
// Unlike anysgd.RMSProp, the moving averages are tied to
// an ordered parameter list so they can be checkpointed.
type RMSProp struct {
	Params []*anydiff.Var

	// DecayRate is the decay of the squared gradient
	// average.
	//
	// If 0, 0.99 is used.
	DecayRate float64

	// Damping is added to the root mean square to avoid
	// dividing by zero.
	//
	// If 0, 0.01 is used.
	Damping float64

	squares [][]float64
}

// NewRMSProp creates an RMSProp optimizer for the
// parameters.
func NewRMSProp(params []*anydiff.Var) *RMSProp {
	return &RMSProp{Params: params}
}

// Transform rescales the gradient in place and returns it.
//
// Parameters missing from g are skipped, and their moving
// averages do not decay.
func (r *RMSProp) Transform(g anydiff.Grad) anydiff.Grad {
	r.init()
	decay := r.decayRate()
	damping := r.damping()
	for i, param := range r.Params {
		vec, ok := g[param]
		if !ok {
			continue
		}
		c := vec.Creator()
		data := c.Float64Slice(vec.Data())
		sq := r.squares[i]
		for j, x := range data {
			sq[j] = decay*sq[j] + (1-decay)*x*x
			data[j] = x / (math.Sqrt(sq[j]) + damping)
		}
		vec.SetData(c.MakeNumericList(data))
	}
	return g
}

// State returns a copy of the squared gradient averages.
func (r *RMSProp) State() OptimizerState {
	r.init()
	res := make(OptimizerState, len(r.squares))
	for i, sq := range r.squares {
		res[i] = append([]float64{}, sq...)
	}
	return res
}

// SetState replaces the squared gradient averages.
func (r *RMSProp) SetState(s OptimizerState) error {
	if len(s) != len(r.Params) {
		return fmt.Errorf("rmsprop: state has %d entries but there are %d parameters",
			len(s), len(r.Params))
	}
	for i, param := range r.Params {
		if len(s[i]) != param.Vector.Len() {
			return fmt.Errorf("rmsprop: state %d has length %d (expected %d)",
				i, len(s[i]), param.Vector.Len())
		}
	}
	r.squares = make([][]float64, len(s))
	for i, sq := range s {
		r.squares[i] = append([]float64{}, sq...)
	}
	return nil
}

func (r *RMSProp) init() {
	if r.squares != nil {
		return
	}
	r.squares = make([][]float64, len(r.Params))
	for i, param := range r.Params {
		r.squares[i] = make([]float64, param.Vector.Len())
	}
}

func (r *RMSProp) decayRate() float64 {
	if r.DecayRate == 0 {
		return 0.99
	}
	return r.DecayRate
}

func (r *RMSProp) damping() float64 {
	if r.Damping == 0 {
		return 0.01
	}
	return r.Damping
}
