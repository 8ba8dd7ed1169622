package dbusclient

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsAllSubmittedTasks(t *testing.T) {
	p := newWorkerPool(4, BackpressureUnbounded, 0)
	defer p.close()

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.submit(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		})
	}
	wg.Wait()
	require.Equal(t, int32(100), n)
}

func TestWorkerPoolIsolatesPanickingTask(t *testing.T) {
	p := newWorkerPool(1, BackpressureUnbounded, 0)
	defer p.close()

	var ranAfterPanic int32
	done := make(chan struct{})
	p.submit(func() { panic("boom") })
	p.submit(func() {
		atomic.StoreInt32(&ranAfterPanic, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic and continue")
	}
	require.Equal(t, int32(1), ranAfterPanic)
}

func TestWorkerPoolDropOldestBoundsQueue(t *testing.T) {
	p := newWorkerPool(0, BackpressureDropOldest, 2)
	// Hold the single worker hostage so nothing drains while we submit.
	block := make(chan struct{})
	p.submit(func() { <-block })

	var executed []int
	var mu sync.Mutex
	record := func(i int) func() {
		return func() {
			mu.Lock()
			executed = append(executed, i)
			mu.Unlock()
		}
	}
	p.submit(record(1))
	p.submit(record(2))
	p.submit(record(3)) // should evict task 1 from the queue

	close(block)
	p.close()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotContains(t, executed, 1)
	require.Contains(t, executed, 3)
}

func TestBackoffIsBoundedAndJittered(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		d := b.next()
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestBackoffResetStartsOverAtInitial(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		b.next()
	}
	b.reset()
	d := b.next()
	// After reset, attempt 0 means delay is in [0.5, 1.0) * initial.
	require.LessOrEqual(t, d, 10*time.Millisecond)
}
