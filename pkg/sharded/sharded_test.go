package sharded

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMap_Basic(t *testing.T) {
	m := NewMap[error](8)
	errA := errors.New("a")
	errB := errors.New("b")

	if _, ok := m.Load("docs/a.txt"); ok {
		t.Error("Load on empty map reported a value")
	}

	m.Store("docs/a.txt", errA)
	if v, ok := m.Load("docs/a.txt"); !ok || v != errA {
		t.Errorf("Load = %v, %v; want %v, true", v, ok, errA)
	}

	m.Store("docs/a.txt", errB)
	if v, _ := m.Load("docs/a.txt"); v != errB {
		t.Errorf("Store did not overwrite, got %v", v)
	}

	if actual, loaded := m.LoadOrStore("docs/a.txt", errA); !loaded || actual != errB {
		t.Errorf("LoadOrStore existing = %v, %v; want %v, true", actual, loaded, errB)
	}
	if actual, loaded := m.LoadOrStore("docs/b.txt", errA); loaded || actual != errA {
		t.Errorf("LoadOrStore new = %v, %v; want %v, false", actual, loaded, errA)
	}

	m.Delete("docs/a.txt")
	if _, ok := m.Load("docs/a.txt"); ok {
		t.Error("Load after Delete reported a value")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
}

func TestMap_Range(t *testing.T) {
	m := NewMap[int](4)
	want := map[string]int{"key1": 100, "key2": 200, "key3": 300}
	for k, v := range want {
		m.Store(k, v)
	}

	got := make(map[string]int)
	m.Range(func(k string, v int) bool {
		got[k] = v
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("Range visited %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Range[%s] = %d, want %d", k, got[k], v)
		}
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("Range did not stop early, visited %d", visited)
	}
}

func TestNewMap_RejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for 3 shards")
		}
	}()
	NewMap[int](3)
}

func TestSet(t *testing.T) {
	s := NewSet(16)
	if s.Has("/main/~CCS~/AB") {
		t.Error("Has on empty set returned true")
	}
	if s.LoadOrStore("/main/~CCS~/AB") {
		t.Error("first LoadOrStore reported loaded")
	}
	if !s.LoadOrStore("/main/~CCS~/AB") {
		t.Error("second LoadOrStore reported not loaded")
	}
	s.Store("/main/~CNS~/CD")
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
	s.Delete("/main/~CCS~/AB")
	if s.Has("/main/~CCS~/AB") {
		t.Error("Has after Delete returned true")
	}
}

func TestSet_Concurrency(t *testing.T) {
	s := NewSet(64)
	const goroutines, keys = 50, 100
	var wg sync.WaitGroup

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range keys {
				s.Store(fmt.Sprintf("key-%d-%d", i, j))
			}
		}()
	}
	wg.Wait()
	if s.Count() != goroutines*keys {
		t.Fatalf("Count = %d, want %d", s.Count(), goroutines*keys)
	}

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range keys {
				key := fmt.Sprintf("key-%d-%d", i, j)
				if !s.Has(key) {
					t.Errorf("concurrent Has failed for key %s", key)
				}
				s.Delete(key)
			}
		}()
	}
	wg.Wait()
	if s.Count() != 0 {
		t.Errorf("Count after deletes = %d, want 0", s.Count())
	}
}
