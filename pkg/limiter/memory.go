// Package limiter caps the number of bytes the pipeline may hold in whole-file
// buffers at the same time.
package limiter

import (
	"sync"
)

// Memory is a byte budget shared by all pipeline items. Items that cannot
// reserve their whole file take the windowed path instead of waiting, so the
// budget never blocks.
//
// A nil *Memory is an unlimited budget.
type Memory struct {
	mu        sync.Mutex
	available int64
	capacity  int64
	peak      int64
}

// NewMemory creates a budget of limit bytes. A limit <= 0 returns nil (unlimited).
func NewMemory(limit int64) *Memory {
	if limit <= 0 {
		return nil
	}
	return &Memory{
		available: limit,
		capacity:  limit,
	}
}

// TryAcquire reserves n bytes and reports whether the reservation succeeded.
// Requests larger than the whole budget always fail.
func (m *Memory) TryAcquire(n int64) bool {
	if m == nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.capacity || m.available < n {
		return false
	}
	m.available -= n
	if used := m.capacity - m.available; used > m.peak {
		m.peak = used
	}
	return true
}

// Release returns n bytes reserved by a successful TryAcquire.
func (m *Memory) Release(n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available += n
	// Clamp on double release.
	if m.available > m.capacity {
		m.available = m.capacity
	}
}

// Available returns the number of bytes currently free.
func (m *Memory) Available() int64 {
	if m == nil {
		return -1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Peak returns the largest number of bytes reserved at once.
func (m *Memory) Peak() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Capacity returns the total budget.
func (m *Memory) Capacity() int64 {
	if m == nil {
		return -1
	}
	return m.capacity
}
