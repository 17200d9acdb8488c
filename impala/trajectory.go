package impala

import (
	"errors"
	"fmt"
)

// ErrMalformedBatch is wrapped by errors caused by batches
// whose shapes do not match the learner's model.
var ErrMalformedBatch = errors.New("malformed batch")

// A Transition is one timestep of experience.
type Transition struct {
	Observation []float64

	// Action is the sampled (one-hot) action.
	Action []float64

	// BehaviorLogits are the action space parameters the
	// worker's policy produced when choosing Action.
	BehaviorLogits []float64

	Reward float64
	Done   bool

	// EpisodeStart is true if StateIn is the initial
	// recurrent state of an episode.
	EpisodeStart bool

	// StateIn is the recurrent state fed to the policy
	// along with Observation.
	StateIn RecurrentState
}

// A Trajectory is a fixed-length segment of experience
// produced by a single worker.
//
// Once a Trajectory is pushed to a BatchQueue, the
// producer must never modify it again.
type Trajectory struct {
	WorkerID int

	// Version is the parameter version of the behavior
	// policy at the start of the segment.
	Version ParamVersion

	Transitions []Transition

	// Bootstrap is the observation following the final
	// transition, used to bootstrap the value function
	// when the segment ends mid-episode.
	Bootstrap []float64
}

// Len returns the number of transitions.
func (t *Trajectory) Len() int {
	return len(t.Transitions)
}

// A Batch is a set of equal-length trajectories consumed
// by a single learner update.
type Batch struct {
	Trajectories []*Trajectory
}

// Len returns the number of trajectories.
func (b *Batch) Len() int {
	return len(b.Trajectories)
}

// Shape describes the sizes a batch must agree with.
type Shape struct {
	SegmentLength int
	ObsSize       int
	NumActions    int

	// State, if non-nil, is a recurrent state from the
	// learner's agent which every StateIn must resemble.
	State RecurrentState
}

// Validate checks that every trajectory in the batch
// matches the shape.
//
// The returned error wraps ErrMalformedBatch.
func (s Shape) Validate(b *Batch) error {
	if b == nil || len(b.Trajectories) == 0 {
		return fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	for i, traj := range b.Trajectories {
		if err := s.validateTrajectory(traj); err != nil {
			return fmt.Errorf("%w: trajectory %d: %v", ErrMalformedBatch, i, err)
		}
	}
	return nil
}

func (s Shape) validateTrajectory(t *Trajectory) error {
	if t == nil {
		return errors.New("nil trajectory")
	} else if len(t.Transitions) == 0 {
		return errors.New("no transitions")
	}
	if len(t.Transitions) != s.SegmentLength {
		return fmt.Errorf("length %d (expected %d)", len(t.Transitions),
			s.SegmentLength)
	}
	if len(t.Transitions[0].StateIn) != numBlocks {
		return fmt.Errorf("initial state has %d parts (expected %d)",
			len(t.Transitions[0].StateIn), numBlocks)
	}
	if s.State != nil {
		for i, part := range t.Transitions[0].StateIn {
			if err := checkStateShape(s.State[i], part); err != nil {
				return fmt.Errorf("initial %s state: %v", blockNames[i], err)
			}
		}
	}
	for i, trans := range t.Transitions {
		if len(trans.Observation) != s.ObsSize {
			return fmt.Errorf("step %d: observation size %d (expected %d)", i,
				len(trans.Observation), s.ObsSize)
		}
		if len(trans.Action) != s.NumActions {
			return fmt.Errorf("step %d: action size %d (expected %d)", i,
				len(trans.Action), s.NumActions)
		}
		if len(trans.BehaviorLogits) != s.NumActions {
			return fmt.Errorf("step %d: logits size %d (expected %d)", i,
				len(trans.BehaviorLogits), s.NumActions)
		}
	}
	if !t.Transitions[len(t.Transitions)-1].Done && len(t.Bootstrap) != s.ObsSize {
		return fmt.Errorf("bootstrap observation size %d (expected %d)",
			len(t.Bootstrap), s.ObsSize)
	}
	return nil
}
