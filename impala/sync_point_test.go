package impala

import (
	"sync"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestSyncPointMonotonic(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	var s SyncPoint
	if s.Read() != nil || s.Version() != -1 {
		t.Fatal("unexpected initial snapshot")
	}

	const numVersions = 200
	params := []anyvec.Vector{c.MakeVector(3), c.MakeVector(5)}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := ParamVersion(-1)
			for last < numVersions {
				snap := s.Read()
				if snap == nil {
					continue
				}
				if snap.Version < last {
					t.Errorf("version went from %d to %d", last, snap.Version)
					return
				}
				last = snap.Version
				for _, p := range snap.Params {
					for _, x := range vectorData(p) {
						if x != float64(snap.Version) {
							t.Errorf("version %d has value %f", snap.Version, x)
							return
						}
					}
				}
			}
		}()
	}

	for v := 0; v <= numVersions; v++ {
		for _, p := range params {
			p.Scale(c.MakeNumeric(0))
			p.AddScalar(c.MakeNumeric(float64(v)))
		}
		if err := s.Publish(params, ParamVersion(v)); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if s.Version() != numVersions {
		t.Errorf("expected version %d but got %d", numVersions, s.Version())
	}
}

func TestSyncPointRejectsStale(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	var s SyncPoint
	params := []anyvec.Vector{c.MakeVector(2)}
	if err := s.Publish(params, 3); err != nil {
		t.Fatal(err)
	}
	for _, v := range []ParamVersion{3, 2} {
		if err := s.Publish(params, v); err == nil {
			t.Errorf("version %d should be rejected", v)
		}
	}
	if s.Version() != 3 {
		t.Errorf("expected version 3 but got %d", s.Version())
	}
}

func TestSnapshotSetVars(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	var s SyncPoint
	src := []*anydiff.Var{
		anydiff.NewVar(c.MakeVectorData([]float64{1, 2})),
		anydiff.NewVar(c.MakeVectorData([]float64{3})),
	}
	if err := s.PublishVars(src, 0); err != nil {
		t.Fatal(err)
	}

	// Changes after publishing must not leak into the
	// snapshot.
	src[0].Vector.Scale(c.MakeNumeric(10))

	dst := []*anydiff.Var{
		anydiff.NewVar(c.MakeVector(2)),
		anydiff.NewVar(c.MakeVector(1)),
	}
	if err := s.Read().SetVars(dst); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "param 0", vectorData(dst[0].Vector), []float64{1, 2})
	assertClose(t, "param 1", vectorData(dst[1].Vector), []float64{3})

	if err := s.Read().SetVars(dst[:1]); err == nil {
		t.Error("expected count mismatch error")
	}
	bad := []*anydiff.Var{dst[1], dst[0]}
	if err := s.Read().SetVars(bad); err == nil {
		t.Error("expected shape mismatch error")
	}
}
