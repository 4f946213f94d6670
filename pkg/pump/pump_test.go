package pump

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitIdle[T any](t *testing.T, p *Pump[T]) {
	t.Helper()
	require.Eventually(t, p.HasEmptyInputQueue, 5*time.Second, time.Millisecond)
}

func TestPump_HandlesAllItems(t *testing.T) {
	var sum atomic.Int64
	p := New(Config[int]{
		Name:     "sum",
		Workers:  4,
		Capacity: 2,
		Handler:  func(i int) { sum.Add(int64(i)) },
	})
	defer p.Close()

	for i := 1; i <= 100; i++ {
		require.True(t, p.Enqueue(i))
	}
	waitIdle(t, p)
	assert.Equal(t, int64(5050), sum.Load())
	assert.Equal(t, int64(100), p.Handled())
	assert.Equal(t, 0, p.QueueLen())
	assert.Equal(t, int64(0), p.Working())
}

func TestPump_Unbounded(t *testing.T) {
	release := make(chan struct{})
	var count atomic.Int64
	p := New(Config[int]{
		Workers:  1,
		Capacity: 0,
		Handler: func(int) {
			<-release
			count.Add(1)
		},
	})
	defer p.Close()

	// Nothing is handled yet, so a bounded queue would block long before this.
	for i := range 1000 {
		require.True(t, p.Enqueue(i))
	}
	close(release)
	waitIdle(t, p)
	assert.Equal(t, int64(1000), count.Load())
}

func TestPump_EnqueueBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	p := New(Config[int]{
		Workers:  1,
		Capacity: 1,
		Handler:  func(int) { <-release },
	})
	defer p.Close()

	require.True(t, p.Enqueue(1)) // taken by the worker
	require.Eventually(t, func() bool { return p.Working() == 1 }, time.Second, time.Millisecond)
	require.True(t, p.Enqueue(2)) // fills the queue

	accepted := make(chan struct{})
	go func() {
		p.Enqueue(3)
		close(accepted)
	}()

	select {
	case <-accepted:
		t.Fatal("enqueue on a full queue must block")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-accepted
	waitIdle(t, p)
}

func TestPump_SideQueueHasPriority(t *testing.T) {
	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})

	p := New(Config[int]{
		Workers:  1,
		Capacity: 10,
		Handler: func(i int) {
			if i == 0 {
				<-gate
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		},
	})
	defer p.Close()

	require.True(t, p.Enqueue(0))
	require.Eventually(t, func() bool { return p.Working() == 1 }, time.Second, time.Millisecond)
	for i := 1; i <= 3; i++ {
		require.True(t, p.Enqueue(i))
	}
	for i := 100; i <= 102; i++ {
		require.True(t, p.EnqueueSide(i))
	}
	close(gate)
	waitIdle(t, p)

	assert.Equal(t, []int{0, 100, 101, 102, 1, 2, 3}, order)
}

func TestPump_SideQueueNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	p := New(Config[int]{Workers: 1, Capacity: 1, Handler: func(int) { <-release }})
	defer p.Close()

	done := make(chan struct{})
	go func() {
		for i := range 500 {
			p.EnqueueSide(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("side queue blocked")
	}
	close(release)
	waitIdle(t, p)
	assert.Equal(t, int64(500), p.Handled())
}

func TestPump_RecoversPanics(t *testing.T) {
	var panicked []int
	var mu sync.Mutex
	var handled atomic.Int64

	p := New(Config[int]{
		Workers:  2,
		Capacity: 4,
		Handler: func(i int) {
			if i%3 == 0 {
				panic("boom")
			}
			handled.Add(1)
		},
		OnPanic: func(i int, r any) {
			mu.Lock()
			panicked = append(panicked, i)
			mu.Unlock()
			assert.Equal(t, "boom", r)
		},
	})
	defer p.Close()

	for i := 1; i <= 9; i++ {
		p.Enqueue(i)
	}
	waitIdle(t, p)

	assert.ElementsMatch(t, []int{3, 6, 9}, panicked)
	assert.Equal(t, int64(6), handled.Load())
	assert.Equal(t, int64(9), p.Handled())
}

func TestPump_CloseRejectsNewItems(t *testing.T) {
	p := New(Config[int]{Workers: 2, Capacity: 1, Handler: func(int) {}})
	p.Close()
	p.Close()

	// The queue has room, so a closed pump has to refuse on every call.
	for i := range 100 {
		require.False(t, p.Enqueue(i), "enqueue %d accepted after close", i)
	}
	assert.False(t, p.EnqueueSide(1))
	assert.Equal(t, 0, p.QueueLen())
	assert.True(t, p.HasEmptyInputQueue())

	u := New(Config[int]{Workers: 1, Handler: func(int) {}})
	u.Close()
	assert.False(t, u.Enqueue(1))
	assert.True(t, u.HasEmptyInputQueue())
}

func TestPump_CloseUnblocksEnqueue(t *testing.T) {
	block := make(chan struct{})
	p := New(Config[int]{Workers: 1, Capacity: 1, Handler: func(int) { <-block }})

	p.Enqueue(1)
	require.Eventually(t, func() bool { return p.Working() == 1 }, time.Second, time.Millisecond)
	p.Enqueue(2)

	result := make(chan bool)
	go func() { result <- p.Enqueue(3) }()

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue stayed blocked after close")
	}
	close(block)
	<-closed
}
