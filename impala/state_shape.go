package impala

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anynet/anyrnn"
)

// checkStateShape verifies that actual has the same
// structure and vector sizes as expected, and that it
// holds a single sequence.
func checkStateShape(expected, actual anyrnn.State) error {
	if actual == nil {
		return errors.New("missing state")
	}
	if fmt.Sprintf("%T", expected) != fmt.Sprintf("%T", actual) {
		return fmt.Errorf("state type %T (expected %T)", actual, expected)
	}
	switch expected := expected.(type) {
	case *anyrnn.VecState:
		return checkVecState(expected, actual.(*anyrnn.VecState))
	case *anyrnn.LSTMState:
		actual := actual.(*anyrnn.LSTMState)
		if err := checkVecState(expected.LastOut, actual.LastOut); err != nil {
			return fmt.Errorf("output: %v", err)
		}
		if err := checkVecState(expected.Internal, actual.Internal); err != nil {
			return fmt.Errorf("internal: %v", err)
		}
	case anyrnn.StackState:
		actual := actual.(anyrnn.StackState)
		if len(actual) != len(expected) {
			return fmt.Errorf("stack has %d layers (expected %d)", len(actual), len(expected))
		}
		for i, sub := range expected {
			if err := checkStateShape(sub, actual[i]); err != nil {
				return fmt.Errorf("layer %d: %v", i, err)
			}
		}
	case *anyrnn.FeedbackState:
		actual := actual.(*anyrnn.FeedbackState)
		if err := checkStateShape(expected.BlockState, actual.BlockState); err != nil {
			return err
		}
		return checkVecState(expected.LastOut, actual.LastOut)
	case *anyrnn.ParallelState:
		actual := actual.(*anyrnn.ParallelState)
		if err := checkStateShape(expected.State1, actual.State1); err != nil {
			return err
		}
		return checkStateShape(expected.State2, actual.State2)
	case *anyrnn.FuncBlockState:
		return checkVecState(expected.VecState, actual.(*anyrnn.FuncBlockState).VecState)
	default:
		if n := len(actual.Present()); n != 1 {
			return fmt.Errorf("state holds %d sequences (expected 1)", n)
		}
	}
	return nil
}

func checkVecState(expected, actual *anyrnn.VecState) error {
	if actual == nil || actual.Vector == nil {
		return errors.New("missing state vector")
	}
	if n := len(actual.PresentMap); n != 1 {
		return fmt.Errorf("state holds %d sequences (expected 1)", n)
	}
	if expected.Vector.Len() != actual.Vector.Len() {
		return fmt.Errorf("state size %d (expected %d)", actual.Vector.Len(),
			expected.Vector.Len())
	}
	return nil
}
