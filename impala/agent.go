package impala

import (
	"github.com/Bellman-Project/Hsuanwu"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// numBlocks is the number of RNN blocks in an Agent, and
// therefore the number of parts in a RecurrentState.
const numBlocks = 3

var blockNames = [numBlocks]string{"base", "actor", "critic"}

// RecurrentState is the hidden state of an Agent for a
// single environment.
//
// Order: base, actor, critic.
type RecurrentState []anyrnn.State

// Agent is a set of RNNs used to implement the actor and
// the critic.
//
// Inputs are all fed into Base.
// The output of Base is fed into Actor and Critic, which
// implement the actor and the critic respectively.
// The output of the Actor is used via ActionSpace.
// The Critic must produce a single value.
//
// The RNN blocks must work with serializer.Copy, since
// every worker keeps a private copy of the agent.
type Agent struct {
	Base, Actor, Critic anyrnn.Block
	ActionSpace         hsuanwu.ActionSpace
}

// Copy produces a deep copy of the agent.
func (a *Agent) Copy() (*Agent, error) {
	res := &Agent{ActionSpace: a.ActionSpace}
	dstBlocks := []*anyrnn.Block{&res.Base, &res.Actor, &res.Critic}
	for i, src := range a.blocks() {
		copied, err := serializer.Copy(src)
		if err != nil {
			return nil, essentials.AddCtx("copy agent "+blockNames[i], err)
		}
		*dstBlocks[i] = copied.(anyrnn.Block)
	}
	return res, nil
}

// AllParameters returns the agent's parameters in a
// deterministic order.
//
// Copies of an agent list their parameters in the same
// order, which is what allows snapshots and checkpoints
// to be matched up with local variables.
func (a *Agent) AllParameters() []*anydiff.Var {
	return anynet.AllParameters(a.Base, a.Actor, a.Critic)
}

// Start returns the initial recurrent state for a single
// environment.
func (a *Agent) Start() RecurrentState {
	res := make(RecurrentState, numBlocks)
	for i, block := range a.blocks() {
		res[i] = block.Start(1)
	}
	return res
}

// Step applies the agent to a single observation.
//
// The result keeps the intermediate RNN results around so
// that the learner can back-propagate through them.
func (a *Agent) Step(state RecurrentState, obs anyvec.Vector) *AgentStep {
	baseOut := a.Base.Step(state[0], obs)
	actorOut := a.Actor.Step(state[1], baseOut.Output())
	criticOut := a.Critic.Step(state[2], baseOut.Output())
	return &AgentStep{Res: []anyrnn.Res{baseOut, actorOut, criticOut}}
}

// Value evaluates only the base and the critic.
// It is used to bootstrap the value function at the end of
// a segment.
func (a *Agent) Value(state RecurrentState, obs anyvec.Vector) float64 {
	baseOut := a.Base.Step(state[0], obs)
	criticOut := a.Critic.Step(state[2], baseOut.Output())
	return vectorScalar(criticOut.Output())
}

func (a *Agent) blocks() []anyrnn.Block {
	return []anyrnn.Block{a.Base, a.Actor, a.Critic}
}

// An AgentStep is the result of Agent.Step.
type AgentStep struct {
	// Order: base, actor, critic.
	Res []anyrnn.Res
}

// Logits returns the action space parameters.
func (a *AgentStep) Logits() anyvec.Vector {
	return a.Res[1].Output()
}

// Value returns the critic's output.
func (a *AgentStep) Value() float64 {
	return vectorScalar(a.Res[2].Output())
}

// State returns the recurrent state after the step.
func (a *AgentStep) State() RecurrentState {
	res := make(RecurrentState, numBlocks)
	for i, r := range a.Res {
		res[i] = r.State()
	}
	return res
}

func vectorScalar(v anyvec.Vector) float64 {
	var sum float64
	for _, x := range vectorData(v) {
		sum += x
	}
	return sum
}

func vectorData(v anyvec.Vector) []float64 {
	return v.Creator().Float64Slice(v.Data())
}
