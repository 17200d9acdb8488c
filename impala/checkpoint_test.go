package impala

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Bellman-Project/Hsuanwu"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestCheckpointRoundTrip(t *testing.T) {
	store, err := NewCheckpointStore(filepath.Join(t.TempDir(), "ckpt"))
	if err != nil {
		t.Fatal(err)
	}
	logger := &recordingLogger{}
	l := testLearner(t, testAgent(), LearnerConfig{
		Checkpoints: store,
		Logger:      logger,
		RunID:       "test-run",
	})
	if _, err := l.Update(testBatch(t, l, 2)); err != nil {
		t.Fatal(err)
	}
	path, err := l.SaveCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if path != store.Path(1) {
		t.Errorf("unexpected path: %s", path)
	}
	if len(logger.checkpoints) != 1 {
		t.Error("checkpoint was not logged")
	}

	original, err := l.Checkpoint()
	if err != nil {
		t.Fatal(err)
	}
	for _, location := range []string{"latest", "1", path} {
		ckpt, err := store.Load(location)
		if err != nil {
			t.Fatal(err)
		}
		if ckpt.Step != 1 || ckpt.RunID != "test-run" {
			t.Errorf("%s: unexpected header %d %s", location, ckpt.Step, ckpt.RunID)
		}
		for i, p := range ckpt.Params {
			if !floatsIdentical(p, original.Params[i]) {
				t.Fatalf("%s: parameter %d differs", location, i)
			}
		}
		for i, s := range ckpt.Optimizer {
			if !floatsIdentical(s, original.Optimizer[i]) {
				t.Fatalf("%s: optimizer state %d differs", location, i)
			}
		}
	}

	ckpt, err := store.Load("latest")
	if err != nil {
		t.Fatal(err)
	}
	restored := testLearner(t, testAgent(), LearnerConfig{})
	if err := restored.Restore(ckpt); err != nil {
		t.Fatal(err)
	}
	if restored.Step() != 1 || restored.SyncPoint().Version() != 1 {
		t.Errorf("unexpected step %d and version %d", restored.Step(),
			restored.SyncPoint().Version())
	}
	for i, p := range restored.params {
		if !vecsEqual(p.Vector, l.params[i].Vector) {
			t.Fatalf("restored parameter %d differs", i)
		}
	}
	for i, s := range restored.config.Optimizer.State() {
		if !floatsIdentical(s, original.Optimizer[i]) {
			t.Fatalf("restored optimizer state %d differs", i)
		}
	}

	agent, err := ckpt.Agent(hsuanwu.Softmax{})
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range agent.AllParameters() {
		if !vecsEqual(p.Vector, l.params[i].Vector) {
			t.Fatalf("deserialized parameter %d differs", i)
		}
	}
}

func TestCheckpointMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCheckpointStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, location := range []string{"latest", "7", filepath.Join(dir, "nope.ckpt")} {
		if _, err := store.Load(location); !errors.Is(err, ErrCheckpointNotFound) {
			t.Errorf("%s: expected not found error but got %v", location, err)
		}
	}

	garbage := filepath.Join(dir, "garbage.ckpt")
	if err := os.WriteFile(garbage, []byte("not a checkpoint"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(garbage); err == nil || errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("expected decode error but got %v", err)
	}
}

func TestCheckpointInconsistent(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ckpt := &Checkpoint{
		Step:      3,
		Params:    [][]float64{{1, 2}, {3}},
		Optimizer: OptimizerState{{1, 2}, {3, 4}},
		Model:     []byte{1},
	}
	if _, err := store.Save(ckpt); err == nil {
		t.Error("expected error for mismatched optimizer state")
	}
	ckpt.Optimizer = nil
	ckpt.Model = nil
	if _, err := store.Save(ckpt); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestRestoreShapeMismatch(t *testing.T) {
	l := testLearner(t, testAgent(), LearnerConfig{})
	ckpt, err := l.Checkpoint()
	if err != nil {
		t.Fatal(err)
	}

	c := anyvec64.DefaultCreator{}
	other := testAgent()
	other.Actor = anyrnn.Stack{
		anyrnn.NewLSTM(c, 5, 3),
		&anyrnn.LayerBlock{Layer: anynet.NewFC(c, 3, testActions)},
	}
	mismatched := testLearner(t, other, LearnerConfig{})
	before := vectorData(mismatched.params[0].Vector)
	if err := mismatched.Restore(ckpt); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	assertClose(t, "param", vectorData(mismatched.params[0].Vector), before)

	ckpt.Params = ckpt.Params[1:]
	ckpt.Optimizer = nil
	if err := l.Restore(ckpt); err == nil {
		t.Error("expected count mismatch error")
	}
}

func floatsIdentical(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if x != b[i] {
			return false
		}
	}
	return true
}
