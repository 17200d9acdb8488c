package impala

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/c2h5oh/datasize"
)

// A Logger logs status messages which are produced during
// training.
//
// Methods may be called from any goroutine.
type Logger interface {
	LogEpisode(workerID int, reward float64, steps int)
	LogUpdate(m *Metrics)
	LogFault(workerID int, err error)
	LogBatchError(err error)
	LogCheckpoint(step int64, path string, size int64, err error)
}

// Metrics summarizes a learner update.
type Metrics struct {
	Step int64

	PolicyLoss   float64
	BaselineLoss float64
	Entropy      float64
	GradNorm     float64

	// MeanRho is the mean truncated importance weight.
	MeanRho float64

	// MeanBonus is the mean intrinsic reward.
	MeanBonus float64

	// MeanLag is the mean number of versions between the
	// behavior policy and the learner.
	MeanLag float64

	// Frames is the number of transitions in the batch.
	// FPS is the rate at which transitions were consumed
	// since the previous update.
	Frames int
	FPS    float64

	// Skipped is true if the update was not applied
	// because of a non-finite loss or gradient.
	Skipped bool
}

// Map returns the metrics as named scalars.
func (m *Metrics) Map() map[string]float64 {
	skipped := 0.0
	if m.Skipped {
		skipped = 1
	}
	return map[string]float64{
		"step":          float64(m.Step),
		"policy_loss":   m.PolicyLoss,
		"baseline_loss": m.BaselineLoss,
		"entropy":       m.Entropy,
		"grad_norm":     m.GradNorm,
		"mean_rho":      m.MeanRho,
		"mean_bonus":    m.MeanBonus,
		"mean_lag":      m.MeanLag,
		"frames":        float64(m.Frames),
		"fps":           m.FPS,
		"skipped":       skipped,
	}
}

// String formats the metrics as sorted key=value pairs.
func (m *Metrics) String() string {
	values := m.Map()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, values[k])
	}
	return strings.Join(parts, " ")
}

// StandardLogger is a Logger which uses the log package.
//
// A Field of name <N> controls whether or not the Log<N>
// method does anything.
type StandardLogger struct {
	Episode    bool
	Update     bool
	Fault      bool
	BatchError bool
	Checkpoint bool
}

// LogEpisode logs the result of an episode.
func (s *StandardLogger) LogEpisode(workerID int, reward float64, steps int) {
	if s.Episode {
		log.Printf("episode: worker=%d reward=%f steps=%d", workerID, reward, steps)
	}
}

// LogUpdate logs the result of a learner update.
func (s *StandardLogger) LogUpdate(m *Metrics) {
	if s.Update {
		log.Printf("update: %s", m)
	}
}

// LogFault logs an environment failure.
func (s *StandardLogger) LogFault(workerID int, err error) {
	if s.Fault {
		log.Printf("fault: worker=%d err=%v", workerID, err)
	}
}

// LogBatchError logs a rejected batch.
func (s *StandardLogger) LogBatchError(err error) {
	if s.BatchError {
		log.Printf("batch error: %v", err)
	}
}

// LogCheckpoint logs a checkpoint save.
func (s *StandardLogger) LogCheckpoint(step int64, path string, size int64, err error) {
	if !s.Checkpoint {
		return
	}
	if err != nil {
		log.Printf("checkpoint: step=%d err=%v", step, err)
	} else {
		log.Printf("checkpoint: step=%d path=%s size=%s", step, path,
			datasize.ByteSize(size).HumanReadable())
	}
}

// MultiLogger sends every message to all of its Loggers.
type MultiLogger []Logger

// LogEpisode calls LogEpisode on every Logger.
func (m MultiLogger) LogEpisode(workerID int, reward float64, steps int) {
	for _, l := range m {
		l.LogEpisode(workerID, reward, steps)
	}
}

// LogUpdate calls LogUpdate on every Logger.
func (m MultiLogger) LogUpdate(metrics *Metrics) {
	for _, l := range m {
		l.LogUpdate(metrics)
	}
}

// LogFault calls LogFault on every Logger.
func (m MultiLogger) LogFault(workerID int, err error) {
	for _, l := range m {
		l.LogFault(workerID, err)
	}
}

// LogBatchError calls LogBatchError on every Logger.
func (m MultiLogger) LogBatchError(err error) {
	for _, l := range m {
		l.LogBatchError(err)
	}
}

// LogCheckpoint calls LogCheckpoint on every Logger.
func (m MultiLogger) LogCheckpoint(step int64, path string, size int64, err error) {
	for _, l := range m {
		l.LogCheckpoint(step, path, size, err)
	}
}

type nopLogger struct{}

func (nopLogger) LogEpisode(int, float64, int)              {}
func (nopLogger) LogUpdate(*Metrics)                        {}
func (nopLogger) LogFault(int, error)                       {}
func (nopLogger) LogBatchError(error)                       {}
func (nopLogger) LogCheckpoint(int64, string, int64, error) {}
