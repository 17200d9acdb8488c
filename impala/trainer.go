package impala

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Bellman-Project/Hsuanwu"
	"github.com/unixpickle/essentials"
)

// A Trainer runs one ActorWorker per environment and a
// single Learner, connected by a BatchQueue.
type Trainer struct {
	Learner *Learner
	Envs    []hsuanwu.Env

	// BatchSize is the number of trajectories per update.
	//
	// If 0, 1 is used.
	BatchSize int

	// QueueCapacity is the maximum number of trajectories
	// waiting for the learner.
	// It may not be smaller than BatchSize.
	//
	// If 0, 2*BatchSize is used.
	QueueCapacity int

	// MaxUpdates, if non-zero, stops training after the
	// given number of updates.
	MaxUpdates int64

	// Drain and MaxResetFailures are passed to every
	// ActorWorker.
	Drain            bool
	MaxResetFailures int

	// Logger, if non-nil, is used by the workers.
	Logger Logger
}

// Run trains until ctx is done or MaxUpdates is reached.
//
// Worker failures are logged as faults and do not stop
// the other workers.
// If every worker fails, the queue is closed and Run
// returns an error once the learner has stopped.
func (t *Trainer) Run(ctx context.Context) (err error) {
	defer essentials.AddCtxTo("run trainer", &err)

	batchSize := t.BatchSize
	if batchSize == 0 {
		batchSize = 1
	}
	capacity := t.QueueCapacity
	if capacity == 0 {
		capacity = 2 * batchSize
	}
	if batchSize > capacity {
		return fmt.Errorf("batch size %d exceeds queue capacity %d", batchSize, capacity)
	}
	if len(t.Envs) == 0 {
		return errors.New("no environments")
	}

	queue := NewBatchQueue(capacity)
	segLen := t.Learner.config.SegmentLength

	var workers []*ActorWorker
	for i, env := range t.Envs {
		w, err := NewActorWorker(i, env, t.Learner.agent, t.Learner.sync, queue, segLen)
		if err != nil {
			return err
		}
		w.Drain = t.Drain
		w.MaxResetFailures = t.MaxResetFailures
		w.Logger = t.Logger
		workers = append(workers, w)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var learnerDone, workersGone atomic.Bool
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *ActorWorker) {
			defer wg.Done()
			if err := t.runWorker(workerCtx, w); err != nil {
				t.logger().LogFault(w.ID, err)
			}
		}(w)
	}
	allExited := make(chan struct{})
	go func() {
		wg.Wait()
		if !learnerDone.Load() && ctx.Err() == nil {
			workersGone.Store(true)
			queue.Close()
		}
		close(allExited)
	}()

	learnerErr := t.Learner.Run(ctx, queue, batchSize, t.MaxUpdates)
	learnerDone.Store(true)

	cancelWorkers()
	if t.Drain {
		<-allExited
		queue.Close()
	} else {
		queue.Close()
		<-allExited
	}

	if learnerErr != nil {
		return learnerErr
	}
	if workersGone.Load() {
		return errors.New("all workers exited")
	}
	return nil
}

func (t *Trainer) runWorker(ctx context.Context, w *ActorWorker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panic: %v\n%s", w.ID, r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}

func (t *Trainer) logger() Logger {
	if t.Logger == nil {
		return nopLogger{}
	}
	return t.Logger
}
