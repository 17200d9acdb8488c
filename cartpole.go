package hsuanwu

import (
	"math"
	"math/rand"
)

const (
	cartPoleGravity        = 9.81
	cartPoleMassCart       = 1.0
	cartPoleMassPole       = 0.1
	cartPoleLength         = 0.5
	cartPoleTotalMass      = cartPoleMassCart + cartPoleMassPole
	cartPolePoleMassLength = cartPoleMassPole * cartPoleLength
	cartPoleForce          = 10.0
	cartPoleTau            = 0.02

	cartPoleXThreshold     = 2.4
	cartPoleThetaThreshold = 12.0 * math.Pi / 180.0
)

// CartPoleObsSize is the length of CartPole observations.
const CartPoleObsSize = 4

// CartPoleActions is the number of discrete CartPole
// actions (push left, push right).
const CartPoleActions = 2

// CartPole is the classic pole-balancing environment.
//
// Observations are (x, xDot, theta, thetaDot).
// Every step before failure yields a reward of 1.
type CartPole struct {
	// Rand is used to randomize the initial state.
	// It must not be shared between goroutines.
	Rand *rand.Rand

	// MaxSteps limits episode length.
	// If 0, 500 is used.
	MaxSteps int

	state [4]float64
	steps int
	done  bool
}

// NewCartPole creates a CartPole with its own random
// source.
func NewCartPole(seed int64) *CartPole {
	return &CartPole{Rand: rand.New(rand.NewSource(seed))}
}

// Reset starts a new episode.
func (c *CartPole) Reset() ([]float64, error) {
	for i := range c.state {
		c.state[i] = c.Rand.Float64()*0.1 - 0.05
	}
	c.steps = 0
	c.done = false
	return c.observation(), nil
}

// Step applies a one-hot action.
func (c *CartPole) Step(action []float64) ([]float64, float64, bool, error) {
	if c.done {
		return nil, 0, true, ErrEpisodeOver
	}
	force := cartPoleForce
	if ActionIndex(action) == 0 {
		force = -cartPoleForce
	}

	x, xDot, theta, thetaDot := c.state[0], c.state[1], c.state[2], c.state[3]
	cosTheta := math.Cos(theta)
	sinTheta := math.Sin(theta)

	temp := (force + cartPolePoleMassLength*thetaDot*thetaDot*sinTheta) /
		cartPoleTotalMass
	thetaAcc := (cartPoleGravity*sinTheta - cosTheta*temp) /
		(cartPoleLength * (4.0/3.0 - cartPoleMassPole*cosTheta*cosTheta/cartPoleTotalMass))
	xAcc := temp - cartPolePoleMassLength*thetaAcc*cosTheta/cartPoleTotalMass

	c.state = [4]float64{
		x + cartPoleTau*xDot,
		xDot + cartPoleTau*xAcc,
		theta + cartPoleTau*thetaDot,
		thetaDot + cartPoleTau*thetaAcc,
	}
	c.steps++

	failed := math.Abs(c.state[0]) > cartPoleXThreshold ||
		math.Abs(c.state[2]) > cartPoleThetaThreshold
	c.done = failed || c.steps >= c.maxSteps()
	reward := 1.0
	if failed {
		reward = 0
	}
	return c.observation(), reward, c.done, nil
}

func (c *CartPole) maxSteps() int {
	if c.MaxSteps == 0 {
		return 500
	}
	return c.MaxSteps
}

func (c *CartPole) observation() []float64 {
	return append([]float64(nil), c.state[:]...)
}
