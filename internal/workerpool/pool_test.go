package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := New(context.Background(), 4)

	var count int32
	for i := 0; i < 50; i++ {
		if err := p.Submit(func(ctx context.Context) {
			atomic.AddInt32(&count, 1)
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	p.Close()

	if got := atomic.LoadInt32(&count); got != 50 {
		t.Errorf("Expected 50 tasks to run, got %d", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := New(context.Background(), size)

	var running, peak int32
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		_ = p.Submit(func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	p.Close()

	if peak > size {
		t.Errorf("Expected at most %d concurrent tasks, saw %d", size, peak)
	}
	if peak < 2 {
		t.Errorf("Expected tasks to run in parallel, peak was %d", peak)
	}
}

func TestPoolSizeClamped(t *testing.T) {
	p := New(context.Background(), 0)
	defer p.Close()

	if p.Size() != 1 {
		t.Errorf("Expected size to be clamped to 1, got %d", p.Size())
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(context.Background(), 2)
	p.Close()
	p.Close() // second close is a no-op

	err := p.Submit(func(ctx context.Context) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestSubmitCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	// Occupy the worker and fill the queue
	_ = p.Submit(func(ctx context.Context) {
		close(started)
		<-block
	})
	<-started
	_ = p.Submit(func(ctx context.Context) {})
	_ = p.Submit(func(ctx context.Context) {})

	cancel()
	err := p.Submit(func(ctx context.Context) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	close(block)
	p.Close()
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New(context.Background(), 1)

	done := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) { panic("boom") })
	_ = p.Submit(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not recover from panicking task")
	}
	p.Close()
}
