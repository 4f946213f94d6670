package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// ErrDestinationExists is returned when an entry's folder below today's
// folder already exists, e.g. from an earlier run within the same second.
var ErrDestinationExists = errors.New("destination folder already exists")

// validateEntries checks the destination names of the enabled entries.
func validateEntries(entries []config.EntryConfig) error {
	if len(entries) == 0 {
		return errors.New("there are no enabled entries to back up")
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Destination == "" {
			return errors.New("one of the enabled entries has an empty destination folder")
		}
		// Destinations live directly below today's folder.
		if strings.ContainsAny(e.Destination, `\/`) || e.Destination == "." || e.Destination == ".." {
			return fmt.Errorf("destination %q must be a single folder name", e.Destination)
		}
		if store.IsStoreFolder(e.Destination) {
			return fmt.Errorf("destination %q is reserved for the stores", e.Destination)
		}
		key := strings.ToLower(e.Destination)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("there are multiple enabled entries with the destination folder %q", e.Destination)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// validate runs the checks that have to pass before anything is written.
func validate(mainFolder, today string, entries []config.EntryConfig) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if err := preflight.CheckMainFolderAccessible(mainFolder); err != nil {
		return err
	}
	for _, e := range entries {
		dest := filepath.Join(today, e.Destination)
		if _, err := os.Lstat(dest); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access destination folder %s: %w", dest, err)
		}
	}
	return nil
}
