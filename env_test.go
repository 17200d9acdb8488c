package hsuanwu

import "testing"

func TestMaxStepsEnv(t *testing.T) {
	env := &MaxStepsEnv{Env: &CartPole{Rand: NewCartPole(1).Rand}, MaxSteps: 3}
	if _, err := env.Reset(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_, _, done, err := env.Step([]float64{1, 0})
		if err != nil {
			t.Fatal(err)
		}
		if done != (i == 2) {
			t.Errorf("step %d: expected done=%v but got %v", i, i == 2, done)
		}
	}
}

func TestCartPoleEpisode(t *testing.T) {
	env := NewCartPole(1337)
	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != CartPoleObsSize {
		t.Fatalf("expected %d observation values but got %d", CartPoleObsSize, len(obs))
	}

	// Always pushing right must topple the pole well
	// before the step limit.
	var steps int
	var total float64
	for {
		_, rew, done, err := env.Step([]float64{0, 1})
		if err != nil {
			t.Fatal(err)
		}
		steps++
		total += rew
		if done {
			break
		}
		if steps > 500 {
			t.Fatal("episode never ended")
		}
	}
	if steps >= 500 {
		t.Errorf("expected early failure but ran %d steps", steps)
	}
	if total != float64(steps-1) {
		t.Errorf("expected reward %d but got %f", steps-1, total)
	}

	if _, _, _, err := env.Step([]float64{0, 1}); err != ErrEpisodeOver {
		t.Errorf("expected ErrEpisodeOver but got %v", err)
	}
}

func TestActionIndex(t *testing.T) {
	if idx := ActionIndex([]float64{0, 0, 1, 0}); idx != 2 {
		t.Errorf("expected 2 but got %d", idx)
	}
}
