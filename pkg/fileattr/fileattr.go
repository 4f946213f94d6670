// Package fileattr extracts the attribute bits that take part in a file's
// store identity and restores them on stored copies.
//
// Two files that differ only in these bits must not share a store entry,
// since hard links share one set of attributes.
package fileattr

import (
	"os"
)

// Attributes is the masked, platform specific attribute set.
type Attributes uint32

// Of returns the masked attributes of the file described by info.
func Of(info os.FileInfo) Attributes {
	return platformAttributes(info)
}

// Apply sets a on path.
func Apply(path string, a Attributes) error {
	return platformApply(path, a)
}
