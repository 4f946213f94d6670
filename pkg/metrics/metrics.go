// Package metrics counts what a pipeline run did and logs it periodically and
// at the end of the run.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Metrics defines the interface for collecting and reporting run statistics.
type Metrics interface {
	AddFilesRead(n int64)
	AddBytesRead(n int64)
	AddBytesWritten(n int64)
	AddStoreFilesCreated(n int64)
	AddFilesLinked(n int64)
	AddNameHits(n int64)
	AddLinkLimitRecoveries(n int64)
	AddFilesExcluded(n int64)
	AddDirsCreated(n int64)
	AddStoreFilesDeleted(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// PipelineMetrics holds the atomic counters of a run.
// It is the concrete implementation of the Metrics interface.
type PipelineMetrics struct {
	FilesRead           atomic.Int64
	BytesRead           atomic.Int64
	BytesWritten        atomic.Int64
	StoreFilesCreated   atomic.Int64
	FilesLinked         atomic.Int64
	NameHits            atomic.Int64
	LinkLimitRecoveries atomic.Int64
	FilesExcluded       atomic.Int64
	DirsCreated         atomic.Int64
	StoreFilesDeleted   atomic.Int64

	// Extra, if set, is appended to every progress and summary line.
	Extra func() []any

	mu        sync.Mutex
	stopChan  chan struct{}
	startTime time.Time
}

func (m *PipelineMetrics) AddFilesRead(n int64)           { m.FilesRead.Add(n) }
func (m *PipelineMetrics) AddBytesRead(n int64)           { m.BytesRead.Add(n) }
func (m *PipelineMetrics) AddBytesWritten(n int64)        { m.BytesWritten.Add(n) }
func (m *PipelineMetrics) AddStoreFilesCreated(n int64)   { m.StoreFilesCreated.Add(n) }
func (m *PipelineMetrics) AddFilesLinked(n int64)         { m.FilesLinked.Add(n) }
func (m *PipelineMetrics) AddNameHits(n int64)            { m.NameHits.Add(n) }
func (m *PipelineMetrics) AddLinkLimitRecoveries(n int64) { m.LinkLimitRecoveries.Add(n) }
func (m *PipelineMetrics) AddFilesExcluded(n int64)       { m.FilesExcluded.Add(n) }
func (m *PipelineMetrics) AddDirsCreated(n int64)         { m.DirsCreated.Add(n) }
func (m *PipelineMetrics) AddStoreFilesDeleted(n int64)   { m.StoreFilesDeleted.Add(n) }

func (m *PipelineMetrics) StartProgress(msg string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
	if interval <= 0 || m.stopChan != nil {
		return
	}
	stop := make(chan struct{})
	m.stopChan = stop
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *PipelineMetrics) StopProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary logs all counters with msg.
func (m *PipelineMetrics) LogSummary(msg string) {
	m.mu.Lock()
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}
	m.mu.Unlock()

	args := []any{
		"files_read", m.FilesRead.Load(),
		"bytes_read", util.ByteCountIEC(m.BytesRead.Load()),
		"bytes_written", util.ByteCountIEC(m.BytesWritten.Load()),
		"store_created", m.StoreFilesCreated.Load(),
		"files_linked", m.FilesLinked.Load(),
		"name_hits", m.NameHits.Load(),
		"link_limit_recoveries", m.LinkLimitRecoveries.Load(),
		"files_excluded", m.FilesExcluded.Load(),
		"dirs_created", m.DirsCreated.Load(),
		"store_deleted", m.StoreFilesDeleted.Load(),
	}
	if m.Extra != nil {
		args = append(args, m.Extra()...)
	}
	args = append(args, "duration", duration.Round(time.Millisecond))
	plog.Info(msg, args...)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesRead(n int64)                             {}
func (m *NoopMetrics) AddBytesRead(n int64)                             {}
func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) AddStoreFilesCreated(n int64)                     {}
func (m *NoopMetrics) AddFilesLinked(n int64)                           {}
func (m *NoopMetrics) AddNameHits(n int64)                              {}
func (m *NoopMetrics) AddLinkLimitRecoveries(n int64)                   {}
func (m *NoopMetrics) AddFilesExcluded(n int64)                         {}
func (m *NoopMetrics) AddDirsCreated(n int64)                           {}
func (m *NoopMetrics) AddStoreFilesDeleted(n int64)                     {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*PipelineMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
