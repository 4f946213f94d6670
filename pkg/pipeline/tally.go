package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/sharded"
)

// Tally counts items entering and leaving a run.
type Tally struct {
	created   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	current   atomic.Pointer[string]
}

func (t *Tally) AddCreated() {
	t.created.Add(1)
}

// AddProcessed counts an item that reached Finished.
func (t *Tally) AddProcessed(failed bool) {
	if failed {
		t.failed.Add(1)
	}
	t.processed.Add(1)
}

func (t *Tally) Created() int64   { return t.created.Load() }
func (t *Tally) Processed() int64 { return t.processed.Load() }
func (t *Tally) Failed() int64    { return t.failed.Load() }

// Succeeded is Processed minus Failed.
func (t *Tally) Succeeded() int64 {
	return t.processed.Load() - t.failed.Load()
}

// Balanced reports whether every created item has been processed.
func (t *Tally) Balanced() bool {
	return t.processed.Load() == t.created.Load()
}

// SetCurrent records the file a stage is working on.
func (t *Tally) SetCurrent(path string) {
	t.current.Store(&path)
}

func (t *Tally) Current() string {
	if p := t.current.Load(); p != nil {
		return *p
	}
	return ""
}

// ErrorQueue collects human readable error messages until the caller drains
// them.
type ErrorQueue struct {
	mu   sync.Mutex
	msgs []string
}

func (q *ErrorQueue) Push(msg string) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
}

func (q *ErrorQueue) Pushf(format string, args ...any) {
	q.Push(fmt.Sprintf(format, args...))
}

// Drain returns all queued messages and empties the queue.
func (q *ErrorQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}

func (q *ErrorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Failures maps source paths to the error that stopped them.
type Failures struct {
	m *sharded.Map[error]
}

func NewFailures() *Failures {
	return &Failures{m: sharded.NewMap[error](64)}
}

func (f *Failures) Record(path string, err error) {
	f.m.Store(path, err)
}

func (f *Failures) Count() int {
	return f.m.Count()
}

// Items returns a snapshot of all recorded failures.
func (f *Failures) Items() map[string]error {
	out := make(map[string]error, f.m.Count())
	f.m.Range(func(k string, v error) bool {
		out[k] = v
		return true
	})
	return out
}

// Diagnostics is a point in time view of a running job.
type Diagnostics struct {
	ReaderQueue   int
	HasherQueue   int
	WriterQueue   int
	ReaderWorking int64
	HasherWorking int64
	WriterWorking int64
	Created       int64
	Processed     int64
	Failed        int64
	CurrentFile   string
	Elapsed       time.Duration
}

// LogArgs renders d as key/value pairs for plog.
func (d Diagnostics) LogArgs() []any {
	return []any{
		"reader_queue", d.ReaderQueue,
		"hasher_queue", d.HasherQueue,
		"writer_queue", d.WriterQueue,
		"created", d.Created,
		"processed", d.Processed,
		"failed", d.Failed,
	}
}
