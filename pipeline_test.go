package webcodecs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCodecQueue_FIFO(t *testing.T) {
	q := newCodecQueue()
	defer q.close(ErrClosed)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		ok := q.push(queueTask{work: func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}})
		if !ok {
			t.Fatalf("push %d returned false", i)
		}
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("task order = %v, want ascending", order)
		}
	}
}

func TestCodecQueue_PendingCountsOnlyCountedTasks(t *testing.T) {
	q := newCodecQueue()
	defer q.close(ErrClosed)

	// Block the worker so queued tasks stay pending.
	release := make(chan struct{})
	q.push(queueTask{work: func() { <-release }})
	time.Sleep(10 * time.Millisecond)

	q.push(queueTask{work: func() {}, counted: true})
	q.push(queueTask{work: func() {}, counted: true})
	q.push(queueTask{work: func() {}})

	if got := q.pending(); got != 2 {
		t.Errorf("pending() = %d, want 2", got)
	}
	close(release)
}

func TestCodecQueue_Barrier(t *testing.T) {
	q := newCodecQueue()
	defer q.close(ErrClosed)

	ran := false
	err := q.barrier(context.Background(), func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("barrier() error = %v", err)
	}
	if !ran {
		t.Error("barrier task did not run")
	}

	wantErr := errors.New("work failed")
	if err := q.barrier(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("barrier() error = %v, want %v", err, wantErr)
	}
}

func TestCodecQueue_BarrierContextCancel(t *testing.T) {
	q := newCodecQueue()
	defer q.close(ErrClosed)

	release := make(chan struct{})
	q.push(queueTask{work: func() { <-release }})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.barrier(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("barrier() error = %v, want DeadlineExceeded", err)
	}
	close(release)
}

func TestCodecQueue_DropAbortsQueuedTasks(t *testing.T) {
	q := newCodecQueue()
	defer q.close(ErrClosed)

	release := make(chan struct{})
	q.push(queueTask{work: func() { <-release }})
	time.Sleep(10 * time.Millisecond)

	var mu sync.Mutex
	var aborted []error
	for i := 0; i < 3; i++ {
		q.push(queueTask{
			work:    func() { t.Error("dropped task ran") },
			abort:   func(err error) { mu.Lock(); aborted = append(aborted, err); mu.Unlock() },
			counted: true,
		})
	}

	wantErr := errors.New("reset")
	if n := q.drop(wantErr); n != 3 {
		t.Errorf("drop() = %d, want 3", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(aborted) != 3 {
		t.Fatalf("aborted %d tasks, want 3", len(aborted))
	}
	for _, err := range aborted {
		if !errors.Is(err, wantErr) {
			t.Errorf("abort error = %v, want %v", err, wantErr)
		}
	}
	close(release)
}

func TestCodecQueue_Close(t *testing.T) {
	q := newCodecQueue()

	done := make(chan struct{})
	q.push(queueTask{work: func() { close(done) }})
	<-done

	q.close(ErrClosed)
	q.close(ErrClosed) // second close is a no-op

	if ok := q.push(queueTask{work: func() { t.Error("task ran after close") }}); ok {
		t.Error("push after close returned true")
	}
	if err := q.barrier(context.Background(), func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("barrier after close: error = %v, want ErrClosed", err)
	}
}

func TestCodecQueue_CloseAbortsQueuedTasks(t *testing.T) {
	q := newCodecQueue()

	release := make(chan struct{})
	q.push(queueTask{work: func() { <-release }})
	time.Sleep(10 * time.Millisecond)

	aborted := make(chan error, 1)
	q.push(queueTask{
		work:  func() { t.Error("queued task ran during close") },
		abort: func(err error) { aborted <- err },
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	q.close(ErrClosed)

	select {
	case err := <-aborted:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("abort error = %v, want ErrClosed", err)
		}
	default:
		t.Error("queued task was not aborted")
	}
}

func TestCodecState_String(t *testing.T) {
	tests := []struct {
		state CodecState
		want  string
	}{
		{StateUnconfigured, "unconfigured"},
		{StateConfigured, "configured"},
		{StateClosed, "closed"},
		{CodecState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CodecState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateErr(t *testing.T) {
	if err := stateErr(StateUnconfigured, "encode"); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("unconfigured: error = %v, want ErrUnconfigured", err)
	}
	if err := stateErr(StateClosed, "encode"); !errors.Is(err, ErrClosed) {
		t.Errorf("closed: error = %v, want ErrClosed", err)
	}
	if err := stateErr(StateConfigured, "encode"); err != nil {
		t.Errorf("configured: error = %v, want nil", err)
	}
}
