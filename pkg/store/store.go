// Package store defines the on-disk layout of the content and name stores
// below the main backup folder.
//
//	<main>/~CCS~/<hh>/<hh>/<HEXDIGEST>   content store
//	<main>/~CNS~/<hh>/<hh>/<HEXDIGEST>   name store (fast mode)
//
// The first two digest bytes select the fan-out directories. The leaf is the
// full digest in uppercase hex without extension.
package store

import (
	"encoding/hex"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
)

const (
	ContentFolder = "~CCS~"
	NameFolder    = "~CNS~"

	// FanOutLevels is the number of digest bytes used as directory levels.
	FanOutLevels = 2
)

// IsStoreFolder reports whether name is one of the store folder names.
func IsStoreFolder(name string) bool {
	return strings.EqualFold(name, ContentFolder) || strings.EqualFold(name, NameFolder)
}

// Layout resolves store paths below a main folder.
type Layout struct {
	main string
}

func NewLayout(mainFolder string) Layout {
	return Layout{main: mainFolder}
}

func (l Layout) MainFolder() string {
	return l.main
}

func (l Layout) ContentDir() string {
	return filepath.Join(l.main, ContentFolder)
}

func (l Layout) NameDir() string {
	return filepath.Join(l.main, NameFolder)
}

// ContentPath returns the content store file for digest.
func (l Layout) ContentPath(digest []byte) string {
	return filepath.Join(l.ContentDir(), RelPath(digest))
}

// NamePath returns the name store file for digest.
func (l Layout) NamePath(digest []byte) string {
	return filepath.Join(l.NameDir(), RelPath(digest))
}

// RelPath returns the fan-out path of digest relative to a store folder.
func RelPath(digest []byte) string {
	if len(digest) <= FanOutLevels {
		panic(fmt.Sprintf("store: digest of %d bytes is too short", len(digest)))
	}
	full := strings.ToUpper(hex.EncodeToString(digest))
	parts := make([]string, 0, FanOutLevels+1)
	for i := range FanOutLevels {
		parts = append(parts, full[2*i:2*i+2])
	}
	parts = append(parts, full)
	return filepath.Join(parts...)
}

// ShardDirs yields every leaf fan-out directory below base in order,
// 00/00 through FF/FF.
func ShardDirs(base string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for a := range 256 {
			first := fmt.Sprintf("%02X", a)
			for b := range 256 {
				if !yield(filepath.Join(base, first, fmt.Sprintf("%02X", b))) {
					return
				}
			}
		}
	}
}
