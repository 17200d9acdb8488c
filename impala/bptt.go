package impala

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
)

// bptt replays a trajectory through the learner's agent
// and back-propagates the V-trace actor-critic objective.
type bptt struct {
	Creator anyvec.Creator
	Agent   *Agent
	Config  *LearnerConfig

	Trajectory *Trajectory

	// Bonus holds per-step intrinsic rewards, or is nil.
	Bonus []float64
}

// bpttStats accumulates per-step quantities for Metrics.
type bpttStats struct {
	PolicyLoss   float64
	BaselineLoss float64
	Entropy      float64
	RhoSum       float64
	BonusSum     float64
	Count        int
}

// Run accumulates the gradient of the objective into grad.
//
// The gradient is for ascent: adding it to the parameters
// increases the advantage-weighted log-likelihood and the
// entropy while reducing the value error.
func (b *bptt) Run(grad anydiff.Grad, stats *bpttStats) {
	c := b.Creator
	trans := b.Trajectory.Transitions
	n := len(trans)

	steps := make([]*AgentStep, n)
	actions := make([]anyvec.Vector, n)
	logRhos := make([]float64, n)
	discounts := make([]float64, n)
	rewards := make([]float64, n)
	values := make([]float64, n)

	state := trans[0].StateIn
	for t, tr := range trans {
		if tr.EpisodeStart {
			state = b.Agent.Start()
		}
		step := b.Agent.Step(state, anyvec.Make(c, tr.Observation))
		steps[t] = step
		state = step.State()
		values[t] = step.Value()

		actions[t] = anyvec.Make(c, tr.Action)
		if b.Config.Correction == VTraceCorrection {
			target := b.logProb(step.Logits(), actions[t])
			behavior := b.logProb(anyvec.Make(c, tr.BehaviorLogits), actions[t])
			logRhos[t] = target - behavior
		}

		rewards[t] = tr.Reward
		if b.Bonus != nil {
			rewards[t] += b.Bonus[t]
			stats.BonusSum += b.Bonus[t]
		}
		if !tr.Done {
			discounts[t] = b.Config.Discount
		}
	}

	var bootstrap float64
	if !trans[n-1].Done {
		bootstrap = b.Agent.Value(state, anyvec.Make(c, b.Trajectory.Bootstrap))
	}

	vt := VTrace(logRhos, discounts, rewards, values, bootstrap, b.Config.Clip)

	blocks := b.Agent.blocks()
	stateUpstream := make([]anyrnn.StateGrad, numBlocks)
	for t := n - 1; t >= 0; t-- {
		outReses := steps[t].Res
		advantage := vt.Advantages[t]
		valueErr := vt.Targets[t] - values[t]

		actorUpstream, logProb, entropy := b.actorUpstream(outReses[1].Output(),
			actions[t], advantage)
		criticUpstream := c.MakeVector(1)
		criticUpstream.AddScalar(c.MakeNumeric(2 * b.Config.BaselineCost * valueErr))

		var baseUpstream1, baseUpstream2 anyvec.Vector
		baseUpstream1, stateUpstream[1] = outReses[1].Propagate(actorUpstream,
			stateUpstream[1], grad)
		baseUpstream2, stateUpstream[2] = outReses[2].Propagate(criticUpstream,
			stateUpstream[2], grad)

		baseUpstream1.Add(baseUpstream2)

		_, stateUpstream[0] = outReses[0].Propagate(baseUpstream1,
			stateUpstream[0], grad)

		if trans[t].EpisodeStart {
			for i, block := range blocks {
				block.PropagateStart(stateUpstream[i], grad)
			}
			stateUpstream = make([]anyrnn.StateGrad, numBlocks)
		}

		stats.PolicyLoss -= advantage * logProb
		stats.BaselineLoss += valueErr * valueErr
		stats.Entropy += entropy
		stats.RhoSum += vt.Rhos[t]
		stats.Count++
	}
}

// actorUpstream computes the gradient of the actor's
// objective with respect to the action parameters.
func (b *bptt) actorUpstream(params, sampled anyvec.Vector,
	advantage float64) (upstream anyvec.Vector, logProb, entropy float64) {
	c := params.Creator()
	paramVar := anydiff.NewVar(params)
	grad := anydiff.NewGrad(paramVar)

	outGrad := c.MakeVector(1)
	outGrad.AddScalar(c.MakeNumeric(advantage))
	logProbRes := b.Agent.ActionSpace.LogProb(paramVar, sampled, 1)
	logProb = vectorScalar(logProbRes.Output())
	logProbRes.Propagate(outGrad, grad)

	entropyRes := b.Agent.ActionSpace.Entropy(paramVar, 1)
	entropy = vectorScalar(entropyRes.Output())
	if b.Config.EntropyCost != 0 {
		outGrad = c.MakeVector(1)
		outGrad.AddScalar(c.MakeNumeric(b.Config.EntropyCost))
		entropyRes.Propagate(outGrad, grad)
	}

	return grad[paramVar], logProb, entropy
}

// logProb computes a floored log-likelihood, treating the
// parameters as constants.
func (b *bptt) logProb(params, sampled anyvec.Vector) float64 {
	res := b.Agent.ActionSpace.LogProb(anydiff.NewConst(params), sampled, 1)
	return math.Max(vectorScalar(res.Output()), b.Config.MinLogProb)
}
