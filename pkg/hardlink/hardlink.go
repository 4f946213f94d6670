// Package hardlink isolates the two platform calls the store depends on:
// creating a hard link and reading the number of names that point at a file.
package hardlink

import (
	"errors"
	"os"
)

// ErrTooManyLinks is returned by fake linkers and matched by IsTooManyLinks.
// The OS linker reports the platform errno instead.
var ErrTooManyLinks = errors.New("maximum number of hard links reached")

// Linker creates hard links and reports link counts.
type Linker interface {
	Link(oldname, newname string) error
	LinkCount(path string) (uint64, error)
}

// OS is the Linker backed by the real filesystem.
type OS struct{}

func (OS) Link(oldname, newname string) error {
	return os.Link(oldname, newname)
}

func (OS) LinkCount(path string) (uint64, error) {
	return LinkCount(path)
}

// IsTooManyLinks reports whether err means the link target already carries
// the maximum number of names the filesystem allows.
func IsTooManyLinks(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTooManyLinks) || isPlatformTooManyLinks(err)
}
