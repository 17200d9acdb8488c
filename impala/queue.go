package impala

import (
	"context"
	"sync"
)

// A BatchQueue hands trajectories from many workers to a
// single learner.
//
// The queue is bounded: Push blocks while it is full,
// which slows down producers rather than letting memory
// grow without bound.
type BatchQueue struct {
	items chan *Trajectory

	// pending holds trajectories taken by a PopBatch which
	// was cancelled before its batch was complete.
	pendingLock sync.Mutex
	pending     []*Trajectory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBatchQueue creates a queue which holds at most
// capacity trajectories.
func NewBatchQueue(capacity int) *BatchQueue {
	if capacity < 1 {
		panic("queue capacity must be positive")
	}
	return &BatchQueue{
		items:  make(chan *Trajectory, capacity),
		closed: make(chan struct{}),
	}
}

// Push adds a trajectory to the queue, blocking while the
// queue is full.
//
// It returns false if the queue was closed or ctx was
// cancelled before the trajectory could be enqueued.
// Either way, the caller gives up ownership of t.
func (b *BatchQueue) Push(ctx context.Context, t *Trajectory) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.items <- t:
		return true
	case <-b.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// PopBatch blocks until n trajectories are available and
// returns them as a batch.
//
// It is meant to be called by a single consumer.
// If the queue is closed or ctx is cancelled first, ok is
// false.
// Trajectories gathered before a cancellation are kept
// and returned first by the next PopBatch; only closing
// the queue discards them.
func (b *BatchQueue) PopBatch(ctx context.Context, n int) (batch *Batch, ok bool) {
	res := b.takePending()
	select {
	case <-b.closed:
		return nil, false
	default:
	}
	for len(res) < n {
		select {
		case <-b.closed:
			return nil, false
		default:
		}
		select {
		case t := <-b.items:
			res = append(res, t)
		case <-b.closed:
			return nil, false
		case <-ctx.Done():
			b.keepPending(res)
			return nil, false
		}
	}
	b.keepPending(res[n:])
	return &Batch{Trajectories: res[:n:n]}, true
}

func (b *BatchQueue) takePending() []*Trajectory {
	b.pendingLock.Lock()
	defer b.pendingLock.Unlock()
	res := b.pending
	b.pending = nil
	return res
}

func (b *BatchQueue) keepPending(t []*Trajectory) {
	b.pendingLock.Lock()
	defer b.pendingLock.Unlock()
	if len(t) == 0 {
		b.pending = nil
	} else {
		b.pending = t
	}
}

// Close shuts down the queue.
// Blocked and future calls to Push and PopBatch return
// false.
//
// It is safe to call Close more than once.
func (b *BatchQueue) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

// Closed returns a channel which is closed once the queue
// has been shut down.
func (b *BatchQueue) Closed() <-chan struct{} {
	return b.closed
}

// Len returns the number of queued trajectories, not
// counting those held over from a cancelled PopBatch.
func (b *BatchQueue) Len() int {
	return len(b.items)
}

// Pending returns the number of trajectories held over
// from a cancelled PopBatch.
func (b *BatchQueue) Pending() int {
	b.pendingLock.Lock()
	defer b.pendingLock.Unlock()
	return len(b.pending)
}

// Cap returns the queue's capacity.
func (b *BatchQueue) Cap() int {
	return cap(b.items)
}

// TryPush is like Push, but it fails instead of blocking
// when the queue is full.
func (b *BatchQueue) TryPush(t *Trajectory) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.items <- t:
		return true
	default:
		return false
	}
}
