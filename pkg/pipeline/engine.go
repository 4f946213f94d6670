package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/pump"
)

const DefaultPollInterval = 100 * time.Millisecond

var errEngineClosed = errors.New("pipeline is shut down")

// EngineConfig sizes the three stages.
type EngineConfig struct {
	ReaderWorkers int
	HasherWorkers int
	WriterWorkers int
	ReaderQueue   int
	HasherQueue   int
	WriterQueue   int
	PollInterval  time.Duration
}

// Engine links the Reader, Hasher and Writer pumps.
//
// Items only ever block on the queue of a later stage. Everything sent back
// to the Reader goes through its side queue, so the stages cannot wait on
// each other in a cycle.
type Engine struct {
	res    *Resources
	reader *pump.Pump[*Item]
	hasher *pump.Pump[*Item]
	writer *pump.Pump[*Item]
	poll   time.Duration
	start  time.Time
}

// NewEngine starts the stage workers.
func NewEngine(res *Resources, cfg EngineConfig) *Engine {
	e := &Engine{res: res, poll: cfg.PollInterval, start: time.Now()}
	if e.poll <= 0 {
		e.poll = DefaultPollInterval
	}

	e.reader = pump.New(pump.Config[*Item]{
		Name:     "reader",
		Workers:  cfg.ReaderWorkers,
		Capacity: cfg.ReaderQueue,
		Handler:  e.onRead,
		OnPanic:  e.onPanic,
	})
	e.hasher = pump.New(pump.Config[*Item]{
		Name:     "hasher",
		Workers:  cfg.HasherWorkers,
		Capacity: cfg.HasherQueue,
		Handler:  e.onHash,
		OnPanic:  e.onPanic,
	})
	e.writer = pump.New(pump.Config[*Item]{
		Name:     "writer",
		Workers:  cfg.WriterWorkers,
		Capacity: cfg.WriterQueue,
		Handler:  e.onWrite,
		OnPanic:  e.onPanic,
	})
	return e
}

// Submit counts a new item and hands it to its first stage. It blocks while
// that stage's queue is full.
func (e *Engine) Submit(it *Item) {
	e.res.Tally.AddCreated()
	var ok bool
	if it.Stage() == Writer {
		ok = e.writer.Enqueue(it)
	} else {
		it.stage = Reader
		ok = e.reader.Enqueue(it)
	}
	if !ok {
		it.Fail(errEngineClosed)
		e.finish(it)
	}
}

func (e *Engine) onRead(it *Item) {
	e.res.Tally.SetCurrent(it.Source)
	it.Read()
	e.route(it)
}

func (e *Engine) onHash(it *Item) {
	it.Hash()
	e.route(it)
}

func (e *Engine) onWrite(it *Item) {
	e.res.Tally.SetCurrent(it.Source)
	it.Write()
	e.route(it)
}

func (e *Engine) route(it *Item) {
	var ok bool
	switch it.Stage() {
	case Reader:
		ok = e.reader.EnqueueSide(it)
	case Hasher:
		ok = e.hasher.Enqueue(it)
	case Writer:
		ok = e.writer.Enqueue(it)
	default:
		e.finish(it)
		return
	}
	if !ok {
		it.Fail(errEngineClosed)
		e.finish(it)
	}
}

func (e *Engine) finish(it *Item) {
	it.Dispose()
	e.res.Tally.AddProcessed(it.Failed())
}

func (e *Engine) onPanic(it *Item, r any) {
	it.Fail(fmt.Errorf("internal error: %v", r))
	e.finish(it)
}

// Idle reports whether all queues are empty and every created item was
// processed. Checking the tally as well covers items a handler holds
// between two queues.
func (e *Engine) Idle() bool {
	return e.reader.HasEmptyInputQueue() &&
		e.hasher.HasEmptyInputQueue() &&
		e.writer.HasEmptyInputQueue() &&
		e.res.Tally.Balanced()
}

// Run calls produce, waits until every submitted item is finished and shuts
// the stages down. The error of produce is returned after the drain.
func (e *Engine) Run(produce func(submit func(*Item)) error) error {
	defer e.Close()
	err := produce(e.Submit)

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for !e.Idle() {
		<-ticker.C
	}
	return err
}

// Close stops the stage workers.
func (e *Engine) Close() {
	e.reader.Close()
	e.hasher.Close()
	e.writer.Close()
}

// Diagnostics returns the current queue depths and counters.
func (e *Engine) Diagnostics() Diagnostics {
	t := e.res.Tally
	return Diagnostics{
		ReaderQueue:   e.reader.QueueLen(),
		HasherQueue:   e.hasher.QueueLen(),
		WriterQueue:   e.writer.QueueLen(),
		ReaderWorking: e.reader.Working(),
		HasherWorking: e.hasher.Working(),
		WriterWorking: e.writer.Working(),
		Created:       t.Created(),
		Processed:     t.Processed(),
		Failed:        t.Failed(),
		CurrentFile:   t.Current(),
		Elapsed:       time.Since(e.start),
	}
}
