// Package lockfile keeps two pgl-dedup runs from working on the same main folder.
//
// The lock is a JSON file created with O_EXCL. The owner refreshes it on a
// heartbeat; a lock whose heartbeat is older than the stale timeout, or whose
// content cannot be parsed, is taken over with an atomic rename. Competing
// takers serialize on an O_EXCL marker file.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// LockFileName is created in the main folder. The internal prefix keeps rework away from it.
const LockFileName = ".pgl-dedup.lock"

const takeoverSuffix = ".takeover"

// LockContent is the JSON body of the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	Command    string    `json:"command"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"`
}

// ErrLockActive is returned when another run holds a fresh lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	Command   string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("main folder is locked by '%s' (PID %d on host '%s'), last updated %s ago",
		e.Command, e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process won a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile is returned when the lock file stays empty or unparsable.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Tunable from tests.
var (
	heartbeatInterval = time.Minute
	staleTimeout      = 3 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
	maxAttempts       = 3
)

// Lock is a held lock. Release it when the run ends.
type Lock struct {
	path string

	mu      sync.Mutex
	content LockContent
	held    bool

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// Path returns the location of the lock file.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock in dirPath for command. ctx bounds the acquisition,
// not the lifetime of the lock.
func Acquire(ctx context.Context, dirPath, command string) (*Lock, error) {
	path := filepath.Join(dirPath, LockFileName)

	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := create(path, command)
		if err == nil {
			return lock.start(), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		content, err := readContent(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Released between our create and read.
			continue
		case errors.Is(err, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", path, "error", err)
		case err != nil:
			plog.Debug("Could not read lock file, retrying", "path", path, "error", err)
			if !sleep(ctx, retryDelay) {
				return nil, ctx.Err()
			}
			continue
		default:
			age := time.Since(content.LastUpdate)
			if age < staleTimeout {
				return nil, &ErrLockActive{PID: content.PID, Hostname: content.Hostname, Command: content.Command, TimeSince: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", content.PID, "command", content.Command, "age", age.Truncate(time.Second))
		}

		lock, err = takeover(path, command)
		if err == nil {
			return lock.start(), nil
		}
		if errors.Is(err, ErrLostRace) {
			plog.Debug("Lock takeover race lost, retrying acquisition")
		} else {
			plog.Warn("Lock takeover failed, retrying", "error", err)
		}
		if !sleep(ctx, retryDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

// Release stops the heartbeat and removes the lock file. Calling it twice is a no-op.
func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func newContent(command string) (LockContent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, err
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return LockContent{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		Command:    command,
		LastUpdate: time.Now().UTC(),
		Nonce:      hex.EncodeToString(nonce),
	}, nil
}

// create claims a free lock with O_EXCL.
func create(path, command string) (*Lock, error) {
	content, err := newContent(command)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	werr := encode(f, content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return nil, werr
	}
	return &Lock{path: path, content: content, held: true}, nil
}

// takeover replaces a stale lock. Competing takers serialize on an O_EXCL
// marker next to the lock; whoever creates it checks the lock is still stale,
// rewrites it and removes the marker. Everybody else loses the race.
func takeover(path, command string) (*Lock, error) {
	content, err := newContent(command)
	if err != nil {
		return nil, err
	}

	marker := path + takeoverSuffix
	m, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			removeStaleMarker(marker)
			return nil, ErrLostRace
		}
		return nil, fmt.Errorf("failed to create takeover marker: %w", err)
	}
	m.Close()
	defer func() {
		if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove takeover marker", "path", marker, "error", err)
		}
	}()

	// The lock may have been taken over or released while we waited.
	current, err := readContent(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrLostRace
	case err == nil && time.Since(current.LastUpdate) < staleTimeout:
		return nil, ErrLostRace
	case err != nil && !errors.Is(err, ErrCorruptLockFile):
		return nil, err
	}

	if err := writeAtomic(path, content); err != nil {
		return nil, err
	}
	got, err := readContent(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if got.PID != content.PID || got.Nonce != content.Nonce {
		return nil, ErrLostRace
	}
	plog.Debug("Took over stale lock", "path", path)
	return &Lock{path: path, content: content, held: true}, nil
}

// removeStaleMarker deletes a takeover marker left behind by a crashed taker.
func removeStaleMarker(marker string) {
	info, err := os.Stat(marker)
	if err != nil || time.Since(info.ModTime()) < staleTimeout {
		return
	}
	plog.Warn("Removing abandoned takeover marker", "path", marker)
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove abandoned takeover marker", "path", marker, "error", err)
	}
}

func (l *Lock) start() *Lock {
	removeStaleTemps(l.path)
	l.interval = heartbeatInterval
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.heartbeat()
	return l
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()
			if err := writeAtomic(l.path, content); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// writeAtomic writes content next to path and renames it into place, so
// readers never observe a partially written lock.
func writeAtomic(path string, content LockContent) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmp.Name(), "error", err)
		}
	}()

	if err := encode(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// removeStaleTemps deletes temp files left by crashed heartbeats. Files younger
// than the stale timeout may belong to a live writer and are kept.
func removeStaleTemps(path string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.tmp"))
	if err != nil {
		return
	}
	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match)
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func encode(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readContent reads the lock, retrying briefly when it is empty or unparsable
// because a writer may be mid update on filesystems without atomic rename.
func readContent(path string) (LockContent, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(path)
		if err != nil {
			return LockContent{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
		} else {
			var content LockContent
			if lastErr = json.Unmarshal(data, &content); lastErr == nil {
				return content, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
