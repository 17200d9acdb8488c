package impala

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Bellman-Project/Hsuanwu"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// ErrCheckpointNotFound is wrapped by Load errors when the
// requested checkpoint does not exist.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

const (
	latestAlias   = "latest"
	checkpointExt = ".ckpt"
)

// A Checkpoint is a consistent record of the learner's
// state after some number of updates.
type Checkpoint struct {
	Step int64

	// Params are the parameter values, ordered like
	// Agent.AllParameters.
	Params [][]float64

	Optimizer OptimizerState

	// Model is the serialized base, actor, and critic.
	Model []byte

	RunID   string
	SavedAt time.Time
}

// Validate checks that the record is self-consistent.
func (c *Checkpoint) Validate() error {
	if c.Step < 0 {
		return fmt.Errorf("negative step %d", c.Step)
	}
	if len(c.Params) == 0 {
		return errors.New("no parameters")
	}
	if len(c.Model) == 0 {
		return errors.New("no model data")
	}
	if len(c.Optimizer) != 0 {
		if len(c.Optimizer) != len(c.Params) {
			return fmt.Errorf("optimizer has %d entries but there are %d parameters",
				len(c.Optimizer), len(c.Params))
		}
		for i, s := range c.Optimizer {
			if len(s) != 0 && len(s) != len(c.Params[i]) {
				return fmt.Errorf("optimizer entry %d has length %d (expected %d)",
					i, len(s), len(c.Params[i]))
			}
		}
	}
	return nil
}

// Agent deserializes the stored model into a new Agent.
//
// The parameters in the result are set to the values in
// c.Params.
func (c *Checkpoint) Agent(actionSpace hsuanwu.ActionSpace) (agent *Agent, err error) {
	defer essentials.AddCtxTo("load checkpoint agent", &err)
	var base, actor, critic anyrnn.Block
	if err := serializer.DeserializeAny(c.Model, &base, &actor, &critic); err != nil {
		return nil, err
	}
	agent = &Agent{
		Base:        base,
		Actor:       actor,
		Critic:      critic,
		ActionSpace: actionSpace,
	}
	params := agent.AllParameters()
	if len(params) != len(c.Params) {
		return nil, fmt.Errorf("model has %d parameters but record has %d",
			len(params), len(c.Params))
	}
	for i, p := range params {
		if p.Vector.Len() != len(c.Params[i]) {
			return nil, fmt.Errorf("parameter %d has length %d (expected %d)",
				i, len(c.Params[i]), p.Vector.Len())
		}
		cr := p.Vector.Creator()
		p.Vector.SetData(cr.MakeNumericList(c.Params[i]))
	}
	return agent, nil
}

// A CheckpointStore saves and loads checkpoints in a
// directory.
//
// Each checkpoint is a separate file, and a small alias
// file records the name of the most recent one.
type CheckpointStore struct {
	Dir string

	lock sync.Mutex
}

// NewCheckpointStore creates a store, creating the
// directory if necessary.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointStore{Dir: dir}, nil
}

// Path returns the file path for a step's checkpoint.
func (c *CheckpointStore) Path(step int64) string {
	return filepath.Join(c.Dir, fmt.Sprintf("step-%010d%s", step, checkpointExt))
}

// Save writes a checkpoint and marks it as the latest.
//
// Both files are written to a temporary path and renamed,
// so readers never see a partial checkpoint.
func (c *CheckpointStore) Save(ckpt *Checkpoint) (path string, err error) {
	defer essentials.AddCtxTo("save checkpoint", &err)

	if err := ckpt.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ckpt); err != nil {
		return "", err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	path = c.Path(ckpt.Step)
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	alias := []byte(filepath.Base(path) + "\n")
	if err := writeAtomic(filepath.Join(c.Dir, latestAlias), alias); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads a checkpoint.
//
// The location may be "latest", a step number, or a path
// to a checkpoint file.
//
// Missing checkpoints produce an error wrapping
// ErrCheckpointNotFound.
func (c *CheckpointStore) Load(location string) (*Checkpoint, error) {
	ckpt, err := c.load(location)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return ckpt, nil
}

func (c *CheckpointStore) load(location string) (*Checkpoint, error) {
	path, err := c.resolve(location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, path)
		}
		return nil, err
	}
	ckpt := &Checkpoint{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(ckpt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := ckpt.Validate(); err != nil {
		return nil, fmt.Errorf("inconsistent checkpoint %s: %w", path, err)
	}
	return ckpt, nil
}

func (c *CheckpointStore) resolve(location string) (string, error) {
	if location == latestAlias {
		data, err := os.ReadFile(filepath.Join(c.Dir, latestAlias))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: no latest checkpoint in %s",
					ErrCheckpointNotFound, c.Dir)
			}
			return "", err
		}
		name := strings.TrimSpace(string(data))
		if name == "" {
			return "", fmt.Errorf("%w: empty latest alias", ErrCheckpointNotFound)
		}
		return filepath.Join(c.Dir, name), nil
	}
	if step, err := strconv.ParseInt(location, 10, 64); err == nil {
		return c.Path(step), nil
	}
	return location, nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}
