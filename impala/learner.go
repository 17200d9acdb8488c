package impala

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// A Bonus computes intrinsic rewards for a batch.
//
// The result has one row per trajectory and one entry per
// transition.
// The step is the learner's current training step, which
// allows the bonus to decay over time.
type Bonus interface {
	Compute(b *Batch, step int64) ([][]float64, error)
}

// ErrBonusFailed is wrapped by errors from a Bonus.
// The batch that caused one is dropped.
var ErrBonusFailed = errors.New("compute bonus")

// LearnerState is a phase of the learner's main loop.
type LearnerState int32

const (
	LearnerIdle LearnerState = iota
	LearnerWaitingForBatch
	LearnerUpdating
	LearnerPublishingSnapshot
)

// String returns a human-readable state name.
func (l LearnerState) String() string {
	switch l {
	case LearnerIdle:
		return "idle"
	case LearnerWaitingForBatch:
		return "waiting"
	case LearnerUpdating:
		return "updating"
	case LearnerPublishingSnapshot:
		return "publishing"
	default:
		return fmt.Sprintf("LearnerState(%d)", int32(l))
	}
}

// LearnerConfig stores the hyper-parameters of a Learner.
type LearnerConfig struct {
	// SegmentLength, ObsSize, and NumActions determine
	// the shape of accepted batches.
	SegmentLength int
	ObsSize       int
	NumActions    int

	// StepSize is the learning rate.
	//
	// If 0, 0.0004 is used.
	StepSize float64

	// AnnealSteps, if non-zero, is the number of updates
	// over which the step size is linearly annealed to 0.
	AnnealSteps int64

	// Discount is the reward discount factor.
	//
	// If 0, 0.99 is used.
	Discount float64

	// Correction selects the off-policy correction.
	//
	// If empty, VTraceCorrection is used.
	Correction CorrectionKind

	// Clip stores the importance weight truncation levels.
	//
	// Zero fields are replaced with 1.
	Clip VTraceClip

	// MinLogProb is a lower bound on log-likelihoods used
	// in importance weights.
	//
	// If 0, -20 is used.
	MinLogProb float64

	// EntropyCost scales the entropy bonus.
	// If 0, no entropy bonus is used.
	EntropyCost float64

	// BaselineCost scales the squared value error.
	//
	// If 0, 0.5 is used.
	BaselineCost float64

	// MaxGradNorm is the global gradient norm above which
	// gradients are rescaled.
	//
	// If 0, 40 is used.
	MaxGradNorm float64

	// Optimizer transforms gradients before they are
	// applied.
	//
	// If nil, RMSProp with default settings is used.
	Optimizer Optimizer

	// Bonus, if non-nil, supplies intrinsic rewards.
	Bonus Bonus

	// Logger, if non-nil, is used to log updates and
	// checkpoints.
	Logger Logger

	// Checkpoints, if non-nil, is where checkpoints are
	// saved.
	Checkpoints *CheckpointStore

	// CheckpointEvery is the number of updates between
	// checkpoints.
	// If 0, checkpoints are only saved when Run exits or
	// when SaveCheckpoint is called.
	CheckpointEvery int64

	// RunID is stored in every checkpoint.
	RunID string
}

func (l *LearnerConfig) setDefaults(params []*anydiff.Var) error {
	if l.SegmentLength <= 0 || l.ObsSize <= 0 || l.NumActions <= 0 {
		return errors.New("segment length, observation size, and action count must be positive")
	}
	if l.StepSize == 0 {
		l.StepSize = 0.0004
	}
	if l.Discount == 0 {
		l.Discount = 0.99
	}
	kind, err := ParseCorrectionKind(string(l.Correction))
	if err != nil {
		return err
	}
	l.Correction = kind
	for _, clip := range []*float64{&l.Clip.Rho, &l.Clip.PGRho, &l.Clip.C} {
		if *clip == 0 {
			*clip = 1
		}
	}
	if l.MinLogProb == 0 {
		l.MinLogProb = -20
	}
	if l.BaselineCost == 0 {
		l.BaselineCost = 0.5
	}
	if l.MaxGradNorm == 0 {
		l.MaxGradNorm = 40
	}
	if l.Optimizer == nil {
		l.Optimizer = NewRMSProp(params)
	}
	if l.Logger == nil {
		l.Logger = nopLogger{}
	}
	return nil
}

// A Learner owns the authoritative copy of an agent and
// applies batches of experience to it.
//
// Update and SaveCheckpoint may be called from different
// goroutines.
type Learner struct {
	config  LearnerConfig
	agent   *Agent
	params  []*anydiff.Var
	creator anyvec.Creator
	shape   Shape
	sync    *SyncPoint

	// lock guards the parameters, the optimizer, the step
	// counter, and lastUpdate.
	lock       sync.Mutex
	step       int64
	lastUpdate time.Time

	state atomic.Int32
}

// NewLearner creates a learner for the agent and publishes
// the agent's initial parameters as version 0.
//
// The learner takes ownership of the agent.
func NewLearner(agent *Agent, config LearnerConfig) (l *Learner, err error) {
	defer essentials.AddCtxTo("create learner", &err)
	params := agent.AllParameters()
	if len(params) == 0 {
		return nil, errors.New("agent has no parameters")
	}
	if err := config.setDefaults(params); err != nil {
		return nil, err
	}
	l = &Learner{
		config:  config,
		agent:   agent,
		params:  params,
		creator: params[0].Vector.Creator(),
		shape: Shape{
			SegmentLength: config.SegmentLength,
			ObsSize:       config.ObsSize,
			NumActions:    config.NumActions,
			State:         agent.Start(),
		},
		sync:       &SyncPoint{},
		lastUpdate: time.Now(),
	}
	if err := l.sync.PublishVars(params, 0); err != nil {
		return nil, err
	}
	return l, nil
}

// Config returns the learner's configuration with all
// defaults filled in.
func (l *Learner) Config() LearnerConfig {
	return l.config
}

// SyncPoint returns the sync point where the learner
// publishes its parameters.
func (l *Learner) SyncPoint() *SyncPoint {
	return l.sync
}

// Step returns the number of updates applied so far.
func (l *Learner) Step() int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.step
}

// State returns the learner's current phase.
func (l *Learner) State() LearnerState {
	return LearnerState(l.state.Load())
}

// Update applies a batch of trajectories.
//
// Batches whose shapes do not match the learner produce
// an error wrapping ErrMalformedBatch, and nothing is
// changed.
// The same goes for ErrBonusFailed when the bonus
// cannot be computed.
// If the loss or gradient is not finite, the update is
// skipped and the returned metrics are marked as such.
func (l *Learner) Update(batch *Batch) (*Metrics, error) {
	if err := l.shape.Validate(batch); err != nil {
		l.config.Logger.LogBatchError(err)
		return nil, err
	}

	var bonuses [][]float64
	if l.config.Bonus != nil {
		var err error
		bonuses, err = l.config.Bonus.Compute(batch, l.Step())
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrBonusFailed, err)
			l.config.Logger.LogBatchError(err)
			return nil, err
		}
		if err := checkBonusShape(bonuses, batch); err != nil {
			l.config.Logger.LogBatchError(err)
			return nil, err
		}
	}

	l.state.Store(int32(LearnerUpdating))
	defer l.state.Store(int32(LearnerIdle))

	l.lock.Lock()
	defer l.lock.Unlock()

	grad := anydiff.NewGrad(l.params...)
	var stats bpttStats
	var lagSum float64
	for i, traj := range batch.Trajectories {
		b := &bptt{
			Creator:    l.creator,
			Agent:      l.agent,
			Config:     &l.config,
			Trajectory: traj,
		}
		if bonuses != nil {
			b.Bonus = bonuses[i]
		}
		b.Run(grad, &stats)
		lagSum += float64(l.step - int64(traj.Version))
	}
	grad.Scale(l.creator.MakeNumeric(1 / float64(batch.Len())))

	count := float64(stats.Count)
	norm := l.gradNorm(grad)
	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now
	m := &Metrics{
		Step:         l.step,
		PolicyLoss:   stats.PolicyLoss / count,
		BaselineLoss: stats.BaselineLoss / count,
		Entropy:      stats.Entropy / count,
		GradNorm:     norm,
		MeanRho:      stats.RhoSum / count,
		MeanBonus:    stats.BonusSum / count,
		MeanLag:      lagSum / float64(batch.Len()),
		Frames:       stats.Count,
	}
	if elapsed > 0 {
		m.FPS = float64(stats.Count) / elapsed
	}

	if !finite(norm, m.PolicyLoss, m.BaselineLoss, m.Entropy) {
		m.Skipped = true
		l.config.Logger.LogUpdate(m)
		return m, nil
	}

	if norm > l.config.MaxGradNorm {
		grad.Scale(l.creator.MakeNumeric(l.config.MaxGradNorm / norm))
	}
	grad = l.config.Optimizer.Transform(grad)
	grad.Scale(l.creator.MakeNumeric(l.stepSize()))
	grad.AddToVars()

	l.step++
	m.Step = l.step

	l.state.Store(int32(LearnerPublishingSnapshot))
	if err := l.sync.PublishVars(l.params, ParamVersion(l.step)); err != nil {
		// Only the learner publishes, so versions cannot
		// collide.
		panic(err)
	}

	l.config.Logger.LogUpdate(m)
	return m, nil
}

// Run repeatedly pops batches from q and applies them.
//
// It stops when ctx is done, q is closed, or maxUpdates
// updates have been applied (if maxUpdates is non-zero).
// Malformed batches, and batches for which the bonus
// fails, are logged and dropped.
//
// If a checkpoint store is configured, a final checkpoint
// is saved before Run returns.
func (l *Learner) Run(ctx context.Context, q *BatchQueue, batchSize int,
	maxUpdates int64) (err error) {
	defer essentials.AddCtxTo("run learner", &err)
	defer l.state.Store(int32(LearnerIdle))

	var updates int64
	lastSaved := int64(-1)
	for maxUpdates == 0 || updates < maxUpdates {
		l.state.Store(int32(LearnerWaitingForBatch))
		batch, ok := q.PopBatch(ctx, batchSize)
		if !ok {
			break
		}
		m, err := l.Update(batch)
		if err != nil {
			if errors.Is(err, ErrMalformedBatch) || errors.Is(err, ErrBonusFailed) {
				continue
			}
			return err
		}
		if m.Skipped {
			continue
		}
		updates++
		if l.config.Checkpoints != nil && l.config.CheckpointEvery > 0 &&
			m.Step%l.config.CheckpointEvery == 0 {
			if _, err := l.SaveCheckpoint(); err == nil {
				lastSaved = m.Step
			}
		}
	}

	if l.config.Checkpoints != nil && lastSaved != l.Step() {
		l.SaveCheckpoint()
	}
	return nil
}

// Checkpoint creates a consistent record of the learner's
// current state.
func (l *Learner) Checkpoint() (ckpt *Checkpoint, err error) {
	defer essentials.AddCtxTo("create checkpoint", &err)

	l.lock.Lock()
	defer l.lock.Unlock()

	model, err := serializer.SerializeAny(l.agent.Base, l.agent.Actor, l.agent.Critic)
	if err != nil {
		return nil, err
	}
	params := make([][]float64, len(l.params))
	for i, p := range l.params {
		params[i] = append([]float64{}, vectorData(p.Vector)...)
	}
	return &Checkpoint{
		Step:      l.step,
		Params:    params,
		Optimizer: l.config.Optimizer.State(),
		Model:     model,
		RunID:     l.config.RunID,
		SavedAt:   time.Now(),
	}, nil
}

// SaveCheckpoint saves the learner's state to the
// configured checkpoint store.
//
// It may be called while Run is running.
// The result is logged whether or not it succeeds.
func (l *Learner) SaveCheckpoint() (path string, err error) {
	store := l.config.Checkpoints
	if store == nil {
		return "", errors.New("save checkpoint: no checkpoint store")
	}
	ckpt, err := l.Checkpoint()
	if err != nil {
		l.config.Logger.LogCheckpoint(-1, "", 0, err)
		return "", err
	}
	path, err = store.Save(ckpt)
	var size int64
	if err == nil {
		if info, statErr := os.Stat(path); statErr == nil {
			size = info.Size()
		}
	}
	l.config.Logger.LogCheckpoint(ckpt.Step, path, size, err)
	return path, err
}

// Restore replaces the learner's parameters, optimizer
// state, and step with those from a checkpoint.
//
// The checkpoint must come from a model with the same
// parameter shapes.
// Restore should be called before any worker starts.
func (l *Learner) Restore(ckpt *Checkpoint) (err error) {
	defer essentials.AddCtxTo("restore checkpoint", &err)

	if err := ckpt.Validate(); err != nil {
		return err
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if len(ckpt.Params) != len(l.params) {
		return fmt.Errorf("checkpoint has %d parameters but model has %d",
			len(ckpt.Params), len(l.params))
	}
	for i, p := range l.params {
		if len(ckpt.Params[i]) != p.Vector.Len() {
			return fmt.Errorf("parameter %d has length %d (expected %d)",
				i, len(ckpt.Params[i]), p.Vector.Len())
		}
	}
	if err := l.config.Optimizer.SetState(ckpt.Optimizer); err != nil {
		return err
	}
	for i, p := range l.params {
		p.Vector.SetData(l.creator.MakeNumericList(ckpt.Params[i]))
	}
	l.step = ckpt.Step
	l.sync.restore(l.params, ParamVersion(l.step))
	return nil
}

func (l *Learner) stepSize() float64 {
	if l.config.AnnealSteps == 0 {
		return l.config.StepSize
	}
	frac := 1 - float64(l.step)/float64(l.config.AnnealSteps)
	return l.config.StepSize * math.Max(0, frac)
}

func (l *Learner) gradNorm(g anydiff.Grad) float64 {
	var sum float64
	for _, p := range l.params {
		vec, ok := g[p]
		if !ok {
			continue
		}
		for _, x := range vectorData(vec) {
			sum += x * x
		}
	}
	return math.Sqrt(sum)
}

func checkBonusShape(bonuses [][]float64, b *Batch) error {
	if len(bonuses) != b.Len() {
		return fmt.Errorf("%w: %d bonus rows for %d trajectories",
			ErrMalformedBatch, len(bonuses), b.Len())
	}
	for i, row := range bonuses {
		if len(row) != b.Trajectories[i].Len() {
			return fmt.Errorf("%w: trajectory %d: %d bonuses for %d transitions",
				ErrMalformedBatch, i, len(row), b.Trajectories[i].Len())
		}
	}
	return nil
}

func finite(nums ...float64) bool {
	for _, x := range nums {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
