package parquetlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Bellman-Project/Hsuanwu/impala"
	"github.com/google/uuid"
)

func TestWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.parquet")
	runID := uuid.NewString()
	w, err := NewWriter(path, runID)
	if err != nil {
		t.Fatal(err)
	}

	var logger impala.Logger = w
	logger.LogEpisode(3, 12.5, 13)
	logger.LogUpdate(&impala.Metrics{Step: 7, GradNorm: 1.5, MeanRho: 0.9, Frames: 80,
		FPS: 1200})
	logger.LogFault(1, errors.New("simulator died"))
	logger.LogBatchError(errors.New("bad batch"))
	logger.LogCheckpoint(7, "/tmp/step-0000000007.ckpt", 1024, nil)

	if w.Rows() != 5 {
		t.Errorf("expected 5 rows but got %d", w.Rows())
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("file should not exist before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	rows, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows but got %d", len(rows))
	}
	for i, kind := range []string{KindEpisode, KindUpdate, KindFault, KindBatchError,
		KindCheckpoint} {
		if rows[i].Kind != kind {
			t.Errorf("row %d: expected kind %s but got %s", i, kind, rows[i].Kind)
		}
		if rows[i].RunID != runID {
			t.Errorf("row %d: unexpected run ID %s", i, rows[i].RunID)
		}
	}
	if rows[0].Worker != 3 || rows[0].Reward != 12.5 || rows[0].Steps != 13 {
		t.Errorf("unexpected episode row: %+v", rows[0])
	}
	if rows[1].Step != 7 || rows[1].GradNorm != 1.5 || rows[1].MeanRho != 0.9 {
		t.Errorf("unexpected update row: %+v", rows[1])
	}
	if rows[1].Frames != 80 || rows[1].FPS != 1200 {
		t.Errorf("unexpected throughput in update row: %+v", rows[1])
	}
	if rows[2].Error != "simulator died" {
		t.Errorf("unexpected fault row: %+v", rows[2])
	}
	if rows[4].Size != 1024 || rows[4].Path == "" {
		t.Errorf("unexpected checkpoint row: %+v", rows[4])
	}

	// Events after Close are dropped.
	logger.LogEpisode(0, 1, 1)
	if w.Rows() != 5 {
		t.Error("write after close was recorded")
	}
}
