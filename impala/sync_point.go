package impala

import (
	"fmt"
	"sync/atomic"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// ParamVersion identifies a published set of parameters.
// Versions increase by one with every learner update.
type ParamVersion int64

// A Snapshot is an immutable copy of the learner's
// parameters.
//
// Snapshots are shared between goroutines, so the vectors
// must never be modified.
type Snapshot struct {
	Version ParamVersion

	// Params are ordered like Agent.AllParameters.
	Params []anyvec.Vector
}

// SetVars copies the snapshot into a set of variables,
// such as the parameters of a worker's local agent.
func (s *Snapshot) SetVars(vars []*anydiff.Var) error {
	if len(vars) != len(s.Params) {
		return fmt.Errorf("snapshot has %d parameters but got %d variables",
			len(s.Params), len(vars))
	}
	for i, v := range vars {
		if v.Vector.Len() != s.Params[i].Len() {
			return fmt.Errorf("parameter %d: snapshot length %d but variable length %d",
				i, s.Params[i].Len(), v.Vector.Len())
		}
	}
	for i, v := range vars {
		v.Vector.Set(s.Params[i])
	}
	return nil
}

// A SyncPoint broadcasts parameter snapshots from the
// learner to the workers.
//
// There must be a single writer.
// Reads never block, and a reader never observes a
// partially written set of parameters.
type SyncPoint struct {
	latest atomic.Pointer[Snapshot]
}

// Publish makes a copy of params visible to readers.
//
// The version must be greater than every previously
// published version.
func (s *SyncPoint) Publish(params []anyvec.Vector, version ParamVersion) error {
	if cur := s.latest.Load(); cur != nil && version <= cur.Version {
		return fmt.Errorf("publish version %d: not newer than version %d",
			version, cur.Version)
	}
	snap := &Snapshot{
		Version: version,
		Params:  make([]anyvec.Vector, len(params)),
	}
	for i, p := range params {
		snap.Params[i] = p.Copy()
	}
	s.latest.Store(snap)
	return nil
}

// PublishVars is like Publish, but it reads the values of
// a list of variables.
func (s *SyncPoint) PublishVars(vars []*anydiff.Var, version ParamVersion) error {
	vecs := make([]anyvec.Vector, len(vars))
	for i, v := range vars {
		vecs[i] = v.Vector
	}
	return s.Publish(vecs, version)
}

// Read returns the latest snapshot, or nil if nothing has
// been published yet.
func (s *SyncPoint) Read() *Snapshot {
	return s.latest.Load()
}

// Version returns the latest published version, or -1 if
// nothing has been published.
func (s *SyncPoint) Version() ParamVersion {
	if snap := s.latest.Load(); snap != nil {
		return snap.Version
	}
	return -1
}

// restore publishes a snapshot even if its version is not
// newer than the current one.
//
// It may only be used before any worker has read from s.
func (s *SyncPoint) restore(vars []*anydiff.Var, version ParamVersion) {
	snap := &Snapshot{
		Version: version,
		Params:  make([]anyvec.Vector, len(vars)),
	}
	for i, v := range vars {
		snap.Params[i] = v.Vector.Copy()
	}
	s.latest.Store(snap)
}
