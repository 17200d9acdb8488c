package impala

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/Bellman-Project/Hsuanwu"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

const (
	testObsSize = 3
	testActions = 2
)

func testAgent() *Agent {
	c := anyvec64.DefaultCreator{}
	return &Agent{
		Base: anyrnn.NewLSTM(c, testObsSize, 5),
		Actor: anyrnn.Stack{
			anyrnn.NewLSTM(c, 5, 4),
			&anyrnn.LayerBlock{
				Layer: anynet.NewFC(c, 4, testActions),
			},
		},
		Critic:      anyrnn.NewLSTM(c, 5, 1),
		ActionSpace: hsuanwu.Softmax{},
	}
}

func testLearner(t *testing.T, agent *Agent, config LearnerConfig) *Learner {
	config.SegmentLength = 4
	config.ObsSize = testObsSize
	config.NumActions = testActions
	l, err := NewLearner(agent, config)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// testEnv produces a constant observation and a reward of
// 1 at every step.
type testEnv struct {
	EpisodeLen int

	// FailStep, if non-zero, makes the given step of each
	// episode fail.
	FailStep int

	// FailAll makes every step fail.
	FailAll bool

	// ResetFailures is the number of resets that fail
	// before resets start working.
	ResetFailures int

	steps  int
	resets int
}

func (t *testEnv) Reset() ([]float64, error) {
	t.resets++
	if t.resets <= t.ResetFailures {
		return nil, errors.New("reset failed")
	}
	t.steps = 0
	return []float64{1, 0.5, -0.5}, nil
}

func (t *testEnv) Step(action []float64) ([]float64, float64, bool, error) {
	t.steps++
	if t.FailAll || t.steps == t.FailStep {
		return nil, 0, false, errors.New("step failed")
	}
	return []float64{1, 0.5, -0.5}, 1, t.steps >= t.EpisodeLen, nil
}

// recordingLogger counts calls made to a Logger.
type recordingLogger struct {
	lock        sync.Mutex
	episodes    int
	updates     []*Metrics
	faults      []error
	batchErrors []error
	checkpoints []string
}

func (r *recordingLogger) LogEpisode(workerID int, reward float64, steps int) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.episodes++
}

func (r *recordingLogger) LogUpdate(m *Metrics) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.updates = append(r.updates, m)
}

func (r *recordingLogger) LogFault(workerID int, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.faults = append(r.faults, err)
}

func (r *recordingLogger) LogBatchError(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.batchErrors = append(r.batchErrors, err)
}

func (r *recordingLogger) LogCheckpoint(step int64, path string, size int64, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err == nil {
		r.checkpoints = append(r.checkpoints, path)
	}
}

func vecsEqual(v1, v2 anyvec.Vector) bool {
	d1 := vectorData(v1)
	d2 := vectorData(v2)
	if len(d1) != len(d2) {
		return false
	}
	for i, x := range d1 {
		if x != d2[i] {
			return false
		}
	}
	return true
}

func assertClose(t *testing.T, name string, actual, expected []float64) {
	t.Helper()
	if len(actual) != len(expected) {
		t.Fatalf("%s: expected %v but got %v", name, expected, actual)
	}
	for i, x := range expected {
		if math.Abs(x-actual[i]) > 1e-8 {
			t.Fatalf("%s: expected %v but got %v", name, expected, actual)
		}
	}
}
