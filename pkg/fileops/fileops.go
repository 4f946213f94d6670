// Package fileops wraps the filesystem operations of the pipeline in a fixed
// retry policy. Antivirus scanners and indexers briefly lock files they touch,
// so every mutation is attempted retryCount+1 times with retryWait in between
// before the last error is returned.
//
// Errors that a retry cannot fix (missing or existing paths, a saturated
// hard-link count) are returned immediately.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/fileattr"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/pool"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

var errNothingToClear = errors.New("no read-only attribute to clear")

const (
	DefaultRetryCount = 6
	DefaultRetryWait  = 10 * time.Second

	copyBufferSize = 256 * 1024
)

// Ops holds the retry policy and the copy buffers shared by all operations.
type Ops struct {
	retryCount  int
	retryWait   time.Duration
	copyBuffers *pool.FixedBufferPool
}

// New returns Ops with the given policy. A negative retryCount is treated as 0.
func New(retryCount int, retryWait time.Duration) *Ops {
	if retryCount < 0 {
		retryCount = 0
	}
	return &Ops{
		retryCount:  retryCount,
		retryWait:   retryWait,
		copyBuffers: pool.NewFixedBuffer(copyBufferSize),
	}
}

// RetryCount returns the configured number of retries after the first attempt.
func (o *Ops) RetryCount() int {
	return o.retryCount
}

func isPermanent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrExist) ||
		errors.Is(err, context.Canceled) ||
		hardlink.IsTooManyLinks(err)
}

// Execute runs fn under the retry policy. name describes the operation in
// log lines and in the final error.
func (o *Ops) Execute(name string, fn func() error) error {
	_, err := Value(o, name, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value runs fn under the retry policy of o and returns its result.
func Value[T any](o *Ops, name string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range o.retryCount + 1 {
		if i > 0 {
			plog.Warn("Retrying "+name, "attempt", fmt.Sprintf("%d/%d", i, o.retryCount), "after", o.retryWait, "error", lastErr)
			time.Sleep(o.retryWait)
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if isPermanent(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s failed after %d retries: %w", name, o.retryCount, lastErr)
}

// FileExists reports whether path exists and is not a directory.
func (o *Ops) FileExists(path string) (bool, error) {
	return Value(o, "stat "+path, func() (bool, error) {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return !info.IsDir(), nil
	})
}

// DirExists reports whether path exists and is a directory.
func (o *Ops) DirExists(path string) (bool, error) {
	return Value(o, "stat "+path, func() (bool, error) {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return info.IsDir(), nil
	})
}

// MkdirAll creates path and any missing parents.
func (o *Ops) MkdirAll(path string) error {
	return o.Execute("create directory "+path, func() error {
		return os.MkdirAll(path, util.UserWritableDirPerms)
	})
}

// Remove deletes the file at path. A missing file is not an error.
func (o *Ops) Remove(path string) error {
	return o.Execute("remove "+path, func() error {
		err := os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if errors.Is(err, fs.ErrPermission) && clearReadOnly(path) == nil {
			err = os.Remove(path)
			if err == nil || errors.Is(err, fs.ErrNotExist) {
				return nil
			}
		}
		return err
	})
}

// Chtimes sets the modification time of path.
func (o *Ops) Chtimes(path string, mtime time.Time) error {
	return o.Execute("set time on "+path, func() error {
		return os.Chtimes(path, mtime, mtime)
	})
}

// SetAttributes applies the masked attribute set to path.
func (o *Ops) SetAttributes(path string, a fileattr.Attributes) error {
	return o.Execute("set attributes on "+path, func() error {
		return fileattr.Apply(path, a)
	})
}

// Copy copies src to a new file dst and restores mtime and attributes on it.
// dst must not exist. A partial dst from a failed attempt is removed before
// the next attempt.
func (o *Ops) Copy(src, dst string, mtime time.Time, attrs fileattr.Attributes) error {
	return o.Execute("copy "+src, func() error {
		if err := o.copyOnce(src, dst); err != nil {
			return err
		}
		err := fileattr.Apply(dst, attrs)
		if err == nil {
			err = os.Chtimes(dst, mtime, mtime)
		}
		if err != nil {
			os.Remove(dst)
		}
		return err
	})
}

func (o *Ops) copyOnce(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	bufPtr := o.copyBuffers.Get()
	defer o.copyBuffers.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	if _, err = io.CopyBuffer(out, in, buf); err != nil {
		return fmt.Errorf("failed to copy content from %s to %s: %w", src, dst, err)
	}
	// Close before Chtimes, flushing may touch the modification time.
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}

// WriteNew writes data to a new file at path. The file only becomes visible
// under path once it is complete.
func (o *Ops) WriteNew(path string, data []byte) error {
	return o.Execute("write "+path, func() error {
		return writeNew(path, data)
	})
}
