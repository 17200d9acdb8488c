// Package intrinsic implements exploration bonuses which
// are added to environment rewards during training.
package intrinsic

import (
	"fmt"
	"math"

	"github.com/Bellman-Project/Hsuanwu/impala"
	"github.com/unixpickle/anyvec"
)

// Kind identifies a bonus implementation.
type Kind string

const (
	None  Kind = "none"
	Count Kind = "count"
	RND   Kind = "rnd"
)

// ParseKind parses a bonus name.
// The empty string selects None.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", None:
		return None, nil
	case Count, RND:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown intrinsic reward kind: %q", s)
	}
}

// Schedule decays the weight of a bonus over training.
//
// The weight at step t is Beta*(1-Kappa)^t.
type Schedule struct {
	Beta  float64
	Kappa float64
}

// Weight returns the bonus weight at a training step.
func (s Schedule) Weight(step int64) float64 {
	return s.Beta * math.Pow(1-s.Kappa, float64(step))
}

// Config stores the settings shared by every bonus.
type Config struct {
	Kind     Kind
	Schedule Schedule

	// Creator is used for vector math in learned
	// bonuses.
	Creator anyvec.Creator

	// ObsSize is the observation length.
	ObsSize int
}

// New creates a bonus of the configured kind.
//
// For None, the result is nil, which a learner treats as
// no bonus at all.
func New(c Config) (impala.Bonus, error) {
	switch c.Kind {
	case "", None:
		return nil, nil
	case Count:
		return &CountBonus{Schedule: c.Schedule}, nil
	case RND:
		if c.Creator == nil || c.ObsSize <= 0 {
			return nil, fmt.Errorf("rnd bonus: creator and observation size are required")
		}
		return NewRNDBonus(c.Creator, c.ObsSize, c.Schedule), nil
	default:
		return nil, fmt.Errorf("unknown intrinsic reward kind: %q", c.Kind)
	}
}
