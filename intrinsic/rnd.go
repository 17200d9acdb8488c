package intrinsic

import (
	"github.com/Bellman-Project/Hsuanwu/impala"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// RNDBonus implements random network distillation.
//
// A predictor network is trained to match a fixed, random
// target network.
// Observations the predictor has not learned yet have a
// large prediction error, which is used as the bonus.
type RNDBonus struct {
	Schedule Schedule

	Target    anynet.Net
	Predictor anynet.Net

	// StepSize is the predictor's learning rate.
	//
	// If 0, 0.001 is used.
	StepSize float64
}

// NewRNDBonus creates an RNDBonus with small randomly
// initialized networks.
func NewRNDBonus(c anyvec.Creator, obsSize int, s Schedule) *RNDBonus {
	const hidden = 32
	const features = 16
	return &RNDBonus{
		Schedule: s,
		Target: anynet.Net{
			anynet.NewFC(c, obsSize, hidden),
			anynet.Tanh,
			anynet.NewFC(c, hidden, features),
		},
		Predictor: anynet.Net{
			anynet.NewFC(c, obsSize, hidden),
			anynet.Tanh,
			anynet.NewFC(c, hidden, features),
		},
	}
}

// Compute returns the weighted prediction errors for every
// observation in the batch and then trains the predictor
// on them.
func (r *RNDBonus) Compute(b *impala.Batch, step int64) ([][]float64, error) {
	var obs []float64
	var n int
	for _, traj := range b.Trajectories {
		for _, trans := range traj.Transitions {
			obs = append(obs, trans.Observation...)
			n++
		}
	}
	if n == 0 {
		return make([][]float64, b.Len()), nil
	}

	errs := r.predictionErrors(obs, n)
	c := errs.Output().Creator()
	errData := c.Float64Slice(errs.Output().Data())

	weight := r.Schedule.Weight(step)
	res := make([][]float64, b.Len())
	var idx int
	for i, traj := range b.Trajectories {
		res[i] = make([]float64, traj.Len())
		for j := range res[i] {
			res[i][j] = weight * errData[idx]
			idx++
		}
	}

	r.train(errs, n)
	return res, nil
}

// predictionErrors computes the mean squared prediction
// error for each of n observations.
func (r *RNDBonus) predictionErrors(obs []float64, n int) anydiff.Res {
	c := r.Predictor.Parameters()[0].Vector.Creator()
	in := anydiff.NewConst(anyvec.Make(c, obs))
	target := anydiff.NewConst(r.Target.Apply(in, n).Output())
	pred := r.Predictor.Apply(in, n)
	cols := pred.Output().Len() / n
	sqErr := anydiff.Square(anydiff.Sub(pred, target))
	sums := anydiff.SumCols(&anydiff.Matrix{Data: sqErr, Rows: n, Cols: cols})
	return anydiff.Scale(sums, c.MakeNumeric(1/float64(cols)))
}

// train takes a gradient descent step on the mean error.
func (r *RNDBonus) train(errs anydiff.Res, n int) {
	c := errs.Output().Creator()
	grad := anydiff.NewGrad(r.Predictor.Parameters()...)
	upstream := c.MakeVector(n)
	upstream.AddScalar(c.MakeNumeric(1 / float64(n)))
	errs.Propagate(upstream, grad)
	grad.Scale(c.MakeNumeric(-r.stepSize()))
	grad.AddToVars()
}

func (r *RNDBonus) stepSize() float64 {
	if r.StepSize == 0 {
		return 0.001
	}
	return r.StepSize
}
