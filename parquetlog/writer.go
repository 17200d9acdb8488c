// Package parquetlog records training events to a parquet
// file for offline analysis.
package parquetlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Bellman-Project/Hsuanwu/impala"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// Event kinds stored in Row.Kind.
const (
	KindEpisode    = "episode"
	KindUpdate     = "update"
	KindFault      = "fault"
	KindBatchError = "batch_error"
	KindCheckpoint = "checkpoint"
)

// Row is a single training event.
//
// Fields which do not apply to an event's kind are left
// at their zero values.
type Row struct {
	RunID string `parquet:"run_id,dict"`
	Kind  string `parquet:"kind,dict"`
	Time  int64  `parquet:"time_unix_nano"`

	Worker int32   `parquet:"worker"`
	Reward float64 `parquet:"reward"`
	Steps  int32   `parquet:"steps"`

	Step         int64   `parquet:"step"`
	PolicyLoss   float64 `parquet:"policy_loss"`
	BaselineLoss float64 `parquet:"baseline_loss"`
	Entropy      float64 `parquet:"entropy"`
	GradNorm     float64 `parquet:"grad_norm"`
	MeanRho      float64 `parquet:"mean_rho"`
	MeanBonus    float64 `parquet:"mean_bonus"`
	MeanLag      float64 `parquet:"mean_lag"`
	Frames       int32   `parquet:"frames"`
	FPS          float64 `parquet:"fps"`
	Skipped      bool    `parquet:"skipped"`

	Path  string `parquet:"path,optional"`
	Size  int64  `parquet:"size"`
	Error string `parquet:"error,optional"`
}

// Writer is an impala.Logger which appends every event to
// a parquet file.
//
// The file is written under a temporary name and only
// appears at its final path once Close succeeds.
type Writer struct {
	RunID string

	lock    sync.Mutex
	tmpPath string
	outPath string
	file    *os.File
	writer  *parquet.GenericWriter[Row]
	rows    int
	err     error
}

// NewWriter creates a Writer for the given output path.
func NewWriter(outPath, runID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmpPath := outPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}
	w := parquet.NewGenericWriter[Row](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
	)
	w.SetKeyValueMetadata("schema", "training_event_v1")
	return &Writer{
		RunID:   runID,
		tmpPath: tmpPath,
		outPath: outPath,
		file:    f,
		writer:  w,
	}, nil
}

// LogEpisode records a finished episode.
func (w *Writer) LogEpisode(workerID int, reward float64, steps int) {
	w.write(Row{
		Kind:   KindEpisode,
		Worker: int32(workerID),
		Reward: reward,
		Steps:  int32(steps),
	})
}

// LogUpdate records learner metrics.
func (w *Writer) LogUpdate(m *impala.Metrics) {
	w.write(Row{
		Kind:         KindUpdate,
		Step:         m.Step,
		PolicyLoss:   m.PolicyLoss,
		BaselineLoss: m.BaselineLoss,
		Entropy:      m.Entropy,
		GradNorm:     m.GradNorm,
		MeanRho:      m.MeanRho,
		MeanBonus:    m.MeanBonus,
		MeanLag:      m.MeanLag,
		Frames:       int32(m.Frames),
		FPS:          m.FPS,
		Skipped:      m.Skipped,
	})
}

// LogFault records an environment failure.
func (w *Writer) LogFault(workerID int, err error) {
	w.write(Row{
		Kind:   KindFault,
		Worker: int32(workerID),
		Error:  err.Error(),
	})
}

// LogBatchError records a rejected batch.
func (w *Writer) LogBatchError(err error) {
	w.write(Row{Kind: KindBatchError, Error: err.Error()})
}

// LogCheckpoint records a checkpoint save.
func (w *Writer) LogCheckpoint(step int64, path string, size int64, err error) {
	row := Row{Kind: KindCheckpoint, Step: step, Path: path, Size: size}
	if err != nil {
		row.Error = err.Error()
	}
	w.write(row)
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.rows
}

// Close flushes the file and moves it to its final path.
//
// It returns the first error encountered while writing,
// if there was one.
func (w *Writer) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.writer == nil {
		return w.err
	}

	closeErr := w.writer.Close()
	w.writer = nil
	_ = w.file.Sync()
	fileErr := w.file.Close()
	w.file = nil

	if w.err != nil {
		_ = os.Remove(w.tmpPath)
		return w.err
	}
	if closeErr != nil {
		w.err = fmt.Errorf("close parquet writer: %w", closeErr)
	} else if fileErr != nil {
		w.err = fmt.Errorf("close parquet file: %w", fileErr)
	} else if err := os.Rename(w.tmpPath, w.outPath); err != nil {
		w.err = fmt.Errorf("rename parquet: %w", err)
	}
	return w.err
}

func (w *Writer) write(row Row) {
	row.RunID = w.RunID
	row.Time = time.Now().UnixNano()

	w.lock.Lock()
	defer w.lock.Unlock()
	if w.writer == nil || w.err != nil {
		return
	}
	if _, err := w.writer.Write([]Row{row}); err != nil {
		w.err = fmt.Errorf("write parquet: %w", err)
		return
	}
	w.rows++
}

// ReadFile reads every row of a file produced by a Writer.
func ReadFile(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
