package webcodecs

import (
	"context"
	"fmt"
	"sync"
)

// CodecState represents the lifecycle state of an encoder or decoder.
type CodecState int

const (
	StateUnconfigured CodecState = iota // Created, not yet configured
	StateConfigured                     // Configure succeeded, accepting work
	StateClosed                         // Closed, permanently unusable
)

func (s CodecState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// queueTask is one unit of work for a codec queue. counted tasks
// contribute to the pending queue size; abort is invoked when the task
// is dropped before running (reset or close).
type queueTask struct {
	work    func()
	abort   func(error)
	counted bool
}

// codecQueue runs tasks on a single worker goroutine in FIFO order.
// Single-worker execution is what keeps output delivery in submission
// order.
type codecQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []queueTask
	closed bool
	wg     sync.WaitGroup
}

func newCodecQueue() *codecQueue {
	q := &codecQueue{}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *codecQueue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		t.work()
	}
}

// push enqueues a task. Returns false if the queue is already closed.
func (q *codecQueue) push(t queueTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.cond.Signal()
	return true
}

// pending returns the number of counted tasks waiting to run.
func (q *codecQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.counted {
			n++
		}
	}
	return n
}

// drop removes all queued tasks, invoking their abort hooks, and
// returns how many counted tasks were removed. The task currently
// running is unaffected.
func (q *codecQueue) drop(err error) int {
	q.mu.Lock()
	dropped := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	n := 0
	for _, t := range dropped {
		if t.counted {
			n++
		}
		if t.abort != nil {
			t.abort(err)
		}
	}
	return n
}

// close stops the worker after the current task and drops queued work.
func (q *codecQueue) close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.tasks
	q.tasks = nil
	q.cond.Signal()
	q.mu.Unlock()

	for _, t := range dropped {
		if t.abort != nil {
			t.abort(err)
		}
	}
	q.wg.Wait()
}

// barrier enqueues a task and waits for it to run or be aborted.
func (q *codecQueue) barrier(ctx context.Context, work func() error) error {
	done := make(chan error, 1)
	ok := q.push(queueTask{
		work: func() {
			done <- work()
		},
		abort: func(err error) {
			done <- err
		},
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stateErr(s CodecState, op string) error {
	switch s {
	case StateUnconfigured:
		return fmt.Errorf("%s: %w", op, ErrUnconfigured)
	case StateClosed:
		return fmt.Errorf("%s: %w", op, ErrClosed)
	default:
		return nil
	}
}
