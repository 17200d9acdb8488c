package impala

import (
	"context"
	"fmt"

	"github.com/Bellman-Project/Hsuanwu"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An ActorWorker runs a private copy of the agent in an
// environment and produces trajectories for the learner.
type ActorWorker struct {
	ID    int
	Env   hsuanwu.Env
	Agent *Agent

	Sync  *SyncPoint
	Queue *BatchQueue

	// SegmentLength is the number of transitions in each
	// trajectory.
	SegmentLength int

	// Drain, if true, makes the worker finish and submit
	// its current segment when it is cancelled.
	// Otherwise, the partial segment is discarded.
	Drain bool

	// MaxResetFailures is the number of consecutive failed
	// environment resets, or consecutive failed steps,
	// after which the worker gives up.
	//
	// If 0, 5 is used.
	MaxResetFailures int

	// Logger, if non-nil, is used to log episodes and
	// environment faults.
	Logger Logger

	creator anyvec.Creator
	params  []*anydiff.Var
	version ParamVersion

	obs          []float64
	state        RecurrentState
	needsReset   bool
	stepFailures int
	episodeStart bool
	rewardSum    float64
	episodeSteps int
}

// NewActorWorker creates a worker with a private copy of
// the agent.
//
// The copy is made immediately, so agent must not be
// modified concurrently.
func NewActorWorker(id int, env hsuanwu.Env, agent *Agent, sync *SyncPoint,
	queue *BatchQueue, segmentLength int) (*ActorWorker, error) {
	local, err := agent.Copy()
	if err != nil {
		return nil, err
	}
	params := local.AllParameters()
	if len(params) == 0 {
		return nil, fmt.Errorf("worker %d: agent has no parameters", id)
	}
	return &ActorWorker{
		ID:            id,
		Env:           env,
		Agent:         local,
		Sync:          sync,
		Queue:         queue,
		SegmentLength: segmentLength,

		creator:    params[0].Vector.Creator(),
		params:     params,
		version:    -1,
		needsReset: true,
	}, nil
}

// Version returns the parameter version the worker is
// currently acting with, or -1 before the first refresh.
func (w *ActorWorker) Version() ParamVersion {
	return w.version
}

// Run gathers trajectories and pushes them to the queue
// until ctx is done or the queue is closed.
//
// It returns an error if the environment cannot be reset.
func (w *ActorWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		traj, err := w.Rollout(ctx)
		if err != nil {
			return err
		} else if traj == nil {
			return nil
		}
		if ctx.Err() != nil {
			w.Queue.TryPush(traj)
			return nil
		}
		if !w.Queue.Push(ctx, traj) {
			return nil
		}
	}
}

// Rollout refreshes the local parameters and gathers a
// single trajectory.
//
// If ctx is cancelled mid-segment, Rollout returns nil
// unless w.Drain is set.
// A segment interrupted by an environment fault is never
// drained.
func (w *ActorWorker) Rollout(ctx context.Context) (*Trajectory, error) {
	if err := w.refresh(); err != nil {
		return nil, err
	}
	traj := &Trajectory{
		WorkerID:    w.ID,
		Version:     w.version,
		Transitions: make([]Transition, 0, w.SegmentLength),
	}
	for len(traj.Transitions) < w.SegmentLength {
		if !w.Drain && ctx.Err() != nil {
			return nil, nil
		}
		if w.needsReset {
			if err := w.reset(); err != nil {
				return nil, err
			}
		}
		trans, err := w.step()
		if err != nil {
			w.logger().LogFault(w.ID, err)
			w.stepFailures++
			if w.stepFailures >= w.maxFailures() {
				return nil, fmt.Errorf("worker %d: %d consecutive step failures: %w",
					w.ID, w.stepFailures, err)
			}
			if ctx.Err() != nil {
				return nil, nil
			}
			if n := len(traj.Transitions); n > 0 {
				traj.Transitions[n-1].Done = true
			}
			w.needsReset = true
			continue
		}
		w.stepFailures = 0
		traj.Transitions = append(traj.Transitions, *trans)
	}
	traj.Bootstrap = w.obs
	return traj, nil
}

// step takes one action in the environment.
func (w *ActorWorker) step() (*Transition, error) {
	res := w.Agent.Step(w.state, anyvec.Make(w.creator, w.obs))
	logits := res.Logits()
	action := w.Agent.ActionSpace.Sample(logits, 1)
	nativeAction := w.creator.Float64Slice(action.Data())

	obs, reward, done, err := w.Env.Step(nativeAction)
	if err != nil {
		return nil, err
	}

	trans := &Transition{
		Observation:    w.obs,
		Action:         nativeAction,
		BehaviorLogits: append([]float64{}, vectorData(logits)...),
		Reward:         reward,
		Done:           done,
		EpisodeStart:   w.episodeStart,
		StateIn:        w.state,
	}

	w.obs = append([]float64{}, obs...)
	w.state = res.State()
	w.episodeStart = false
	w.rewardSum += reward
	w.episodeSteps++
	if done {
		w.logger().LogEpisode(w.ID, w.rewardSum, w.episodeSteps)
		w.needsReset = true
	}
	return trans, nil
}

// reset starts a new episode, retrying failed resets.
func (w *ActorWorker) reset() error {
	maxFailures := w.maxFailures()
	for failures := 1; ; failures++ {
		obs, err := w.Env.Reset()
		if err == nil {
			w.obs = append([]float64{}, obs...)
			w.state = w.Agent.Start()
			w.needsReset = false
			w.episodeStart = true
			w.rewardSum = 0
			w.episodeSteps = 0
			return nil
		}
		w.logger().LogFault(w.ID, err)
		if failures >= maxFailures {
			return fmt.Errorf("worker %d: %d consecutive reset failures: %w",
				w.ID, failures, err)
		}
	}
}

// refresh copies the latest published parameters into the
// local agent if they are newer than the current ones.
func (w *ActorWorker) refresh() error {
	snap := w.Sync.Read()
	if snap == nil || snap.Version <= w.version {
		return nil
	}
	if err := snap.SetVars(w.params); err != nil {
		return fmt.Errorf("worker %d: %w", w.ID, err)
	}
	w.version = snap.Version
	return nil
}

func (w *ActorWorker) maxFailures() int {
	if w.MaxResetFailures == 0 {
		return 5
	}
	return w.MaxResetFailures
}

func (w *ActorWorker) logger() Logger {
	if w.Logger == nil {
		return nopLogger{}
	}
	return w.Logger
}
