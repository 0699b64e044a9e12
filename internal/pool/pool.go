// Package pool implements a fixed-size pool of long-lived workers that each
// own one task slot.
//
// The contract is acquire, populate, dispatch: Acquire blocks until some
// worker is idle and hands the caller exclusive access to that worker's
// slot; the caller fills the slot and calls Dispatch, which wakes the worker
// without waiting for it. Drain waits for every worker to go idle, then
// stops and joins them.
//
// Slot data is written only by the caller between Acquire and Dispatch and
// read only by the worker between pickup and completion. Ownership moves
// over channels: a counted channel of free slot indices and one capacity-1
// work channel per worker.
package pool

import (
	"errors"
	"sync"
	"time"

	streamerrors "github.com/tamirms/extsort/errors"
	"golang.org/x/sync/errgroup"
)

// Pool runs task over slots of type T on a fixed set of workers.
type Pool[T any] struct {
	task  func(*T) error
	slots []T
	work  []chan struct{}
	free  chan int
	group errgroup.Group // join only; task errors go to errs

	mu      sync.Mutex
	errs    []error
	drained bool

	waits time.Duration // time Acquire spent blocked
}

// Slot is exclusive access to one worker's task data, valid from Acquire
// until Dispatch or Release.
type Slot[T any] struct {
	idx  int
	data *T
}

// Data returns the task data the caller populates before Dispatch.
func (s *Slot[T]) Data() *T { return s.data }

// New starts n workers running task. n must be positive.
func New[T any](n int, task func(*T) error) *Pool[T] {
	p := &Pool[T]{
		task:  task,
		slots: make([]T, n),
		work:  make([]chan struct{}, n),
		free:  make(chan int, n),
	}
	for i := range n {
		p.work[i] = make(chan struct{}, 1)
		p.free <- i
		// Workers outlive failed tasks, and Drain reports every failure
		// rather than the first, so errors are kept in errs.
		p.group.Go(func() error {
			p.runWorker(i)
			return nil
		})
	}
	return p
}

// runWorker executes dispatched tasks for slot i until its work channel is
// closed. A failing task does not stop the worker: the error is recorded and
// the slot is returned to the free list so Acquire and Drain cannot hang.
func (p *Pool[T]) runWorker(i int) {
	for range p.work[i] {
		if err := p.task(&p.slots[i]); err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		}
		p.free <- i
	}
}

// Acquire blocks until a worker is idle and returns its slot.
// If a previously dispatched task has failed, Acquire returns that error so
// the caller can stop producing work; the pool must still be drained.
func (p *Pool[T]) Acquire() (*Slot[T], error) {
	if err := p.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	drained := p.drained
	p.mu.Unlock()
	if drained {
		return nil, streamerrors.ErrPoolDrained
	}

	start := time.Now()
	i := <-p.free
	p.waits += time.Since(start)
	return &Slot[T]{idx: i, data: &p.slots[i]}, nil
}

// Dispatch hands the slot to its worker. It does not wait for the task.
func (p *Pool[T]) Dispatch(s *Slot[T]) {
	p.work[s.idx] <- struct{}{}
}

// Release returns an acquired slot without running its task.
func (p *Pool[T]) Release(s *Slot[T]) {
	p.free <- s.idx
}

// Drain waits until no worker is mid-task, stops all workers, joins them and
// returns the errors of every failed task. Safe to call more than once.
func (p *Pool[T]) Drain() error {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return p.Err()
	}
	p.drained = true
	p.mu.Unlock()

	for range len(p.slots) {
		<-p.free
	}
	for _, w := range p.work {
		close(w)
	}
	_ = p.group.Wait() // workers always return nil
	return p.Err()
}

// Err returns the joined errors of failed tasks so far, or nil.
func (p *Pool[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Busy returns the number of workers that are not idle, including slots
// acquired but not yet dispatched.
func (p *Pool[T]) Busy() int { return len(p.slots) - len(p.free) }

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return len(p.slots) }

// Waits is the time Acquire spent blocked waiting for an idle worker.
// Not safe to read concurrently with Acquire.
func (p *Pool[T]) Waits() time.Duration { return p.waits }
