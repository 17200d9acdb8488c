package hsuanwu

import "errors"

// Env is an instance of an RL environment.
//
// Observations and actions are flat vectors.
// Discrete actions are one-hot vectors.
type Env interface {
	Reset() (observation []float64, err error)
	Step(action []float64) (observation []float64, reward float64,
		done bool, err error)
}

// MaxStepsEnv wraps an Env and ends episodes early if
// they run longer than MaxSteps timesteps.
type MaxStepsEnv struct {
	Env
	MaxSteps int

	steps int
}

// Reset resets the environment.
func (m *MaxStepsEnv) Reset() ([]float64, error) {
	m.steps = 0
	return m.Env.Reset()
}

// Step takes a step in the environment.
func (m *MaxStepsEnv) Step(action []float64) ([]float64, float64, bool, error) {
	obs, rew, done, err := m.Env.Step(action)
	m.steps++
	if m.steps == m.MaxSteps {
		done = true
	}
	return obs, rew, done, err
}

// ErrEpisodeOver is returned by environments which are
// stepped after reporting the end of an episode.
var ErrEpisodeOver = errors.New("step: episode is over")

// ActionIndex returns the index of the largest component
// of a one-hot action vector.
func ActionIndex(action []float64) int {
	var idx int
	for i, x := range action {
		if x > action[idx] {
			idx = i
		}
	}
	return idx
}
