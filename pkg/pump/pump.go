// Package pump implements one concurrent pipeline stage: a pool of worker
// goroutines pulling items from a bounded queue and handing each to a handler.
//
// Besides the bounded queue every pump has an unbounded side queue. Items on
// the side queue are taken before any item of the bounded queue, and adding to
// it never blocks. Stages use it to send an item back upstream without
// waiting on a queue that may itself be waiting on them.
package pump

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

// Config describes a pump.
type Config[T any] struct {
	// Name is used in log lines.
	Name string
	// Workers is the number of goroutines, at least 1.
	Workers int
	// Capacity bounds the main queue. Capacity <= 0 makes it unbounded.
	Capacity int
	// Handler processes one item. It owns the item until it returns.
	Handler func(item T)
	// OnPanic is called with the item whose handler panicked. The worker keeps
	// running afterwards.
	OnPanic func(item T, recovered any)
}

// Pump is a running stage.
type Pump[T any] struct {
	name    string
	handler func(T)
	onPanic func(T, any)

	queue     chan T   // bounded main queue, nil when unbounded
	unbounded *fifo[T] // unbounded main queue, nil when bounded
	side      *fifo[T]

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	pending atomic.Int64
	working atomic.Int64
	handled atomic.Int64
}

// New starts the workers of a pump.
func New[T any](cfg Config[T]) *Pump[T] {
	if cfg.Handler == nil {
		panic("pump: handler is required")
	}
	workers := max(cfg.Workers, 1)

	p := &Pump[T]{
		name:    cfg.Name,
		handler: cfg.Handler,
		onPanic: cfg.OnPanic,
		side:    newFIFO[T](),
		done:    make(chan struct{}),
	}
	if cfg.Capacity > 0 {
		p.queue = make(chan T, cfg.Capacity)
	} else {
		p.unbounded = newFIFO[T]()
	}

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

// Enqueue adds item to the main queue, blocking while the queue is full.
// It returns false if the pump was closed before the item was accepted.
func (p *Pump[T]) Enqueue(item T) bool {
	// A closed pump must never accept, even when the queue has room.
	select {
	case <-p.done:
		return false
	default:
	}
	p.pending.Add(1)
	if p.unbounded != nil {
		p.unbounded.push(item)
		return true
	}

	select {
	case p.queue <- item:
		return true
	case <-p.done:
		p.pending.Add(-1)
		return false
	}
}

// EnqueueSide adds item to the side queue. It never blocks.
func (p *Pump[T]) EnqueueSide(item T) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	p.pending.Add(1)
	p.side.push(item)
	return true
}

func (p *Pump[T]) worker() {
	defer p.wg.Done()
	for {
		if item, ok := p.side.pop(); ok {
			p.run(item)
			continue
		}
		if p.unbounded != nil {
			if item, ok := p.unbounded.pop(); ok {
				p.run(item)
				continue
			}
		}

		select {
		case <-p.done:
			return
		case item := <-p.queue:
			p.run(item)
		case <-p.side.wakeup():
		case <-p.unbounded.wakeup():
		}
	}
}

func (p *Pump[T]) run(item T) {
	p.working.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.recovered(item, r)
		}
		p.working.Add(-1)
		p.handled.Add(1)
		p.pending.Add(-1)
	}()
	p.handler(item)
}

func (p *Pump[T]) recovered(item T, r any) {
	if p.onPanic == nil {
		plog.Error("Pump handler panicked", "pump", p.name, "panic", fmt.Sprint(r))
		return
	}
	defer func() {
		if r2 := recover(); r2 != nil {
			plog.Error("Pump panic handler panicked", "pump", p.name, "panic", fmt.Sprint(r2))
		}
	}()
	p.onPanic(item, r)
}

// Name returns the configured name.
func (p *Pump[T]) Name() string {
	return p.name
}

// QueueLen returns the number of items waiting in both queues.
func (p *Pump[T]) QueueLen() int {
	n := len(p.queue) + p.side.len()
	if p.unbounded != nil {
		n += p.unbounded.len()
	}
	return n
}

// Working returns the number of items currently inside the handler.
func (p *Pump[T]) Working() int64 {
	return p.working.Load()
}

// Handled returns the number of handler invocations that have returned.
func (p *Pump[T]) Handled() int64 {
	return p.handled.Load()
}

// HasEmptyInputQueue reports whether every accepted item has been handled.
// Unlike QueueLen it also covers items a worker has taken but not finished.
func (p *Pump[T]) HasEmptyInputQueue() bool {
	return p.pending.Load() == 0
}

// Close stops the workers after their current item and waits for them.
// Items still queued are dropped. Close is idempotent.
func (p *Pump[T]) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
