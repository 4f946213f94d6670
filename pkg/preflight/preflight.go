// Package preflight provides functions for validation and checks that run before
// a main operation begins. Apart from the write and hard link probes they do not
// change the system's state.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Validator runs the checks selected by a Plan.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Run executes the checks of p against mainFolder and sources. A main folder
// that looks unmounted is only reported, since backing up to a local disk is
// a legitimate setup.
func (v *Validator) Run(ctx context.Context, mainFolder string, sources []string, p *Plan) error {
	if p.MainFolderAccessible {
		if err := CheckMainFolderAccessible(mainFolder); err != nil {
			return err
		}
	}
	if p.MainFolderMounted {
		if err := validateMountPoint(mainFolder); err != nil {
			plog.Warn("Main folder may not be on the intended drive", "reason", err)
		}
	}
	if p.SourcesAccessible {
		for _, src := range sources {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := CheckSourceAccessible(src); err != nil {
				// A missing source only fails its own entry.
				plog.Warn("Source not accessible", "source", src, "reason", err)
			}
		}
	}
	if p.DryRun {
		return nil
	}
	if p.MainFolderWritable {
		if err := CheckMainFolderWritable(mainFolder); err != nil {
			return err
		}
	}
	if p.HardLinks {
		if err := CheckHardLinkSupport(mainFolder); err != nil {
			return err
		}
	}
	return nil
}

// CheckMainFolderAccessible verifies that the main folder exists and is a directory.
// Unlike a plain backup target it is never created implicitly.
func CheckMainFolderAccessible(path string) error {
	if err := checkVolumeExists(path); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("the main folder %q does not exist", path)
	} else if err != nil {
		return fmt.Errorf("cannot access main folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("main folder exists but is not a directory: %s", path)
	}
	return nil
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckMainFolderWritable creates and deletes a temporary file in path.
func CheckMainFolderWritable(path string) error {
	tempFile := filepath.Join(path, ".pgl-dedup-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("main folder %s is not writable: %w", path, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// CheckHardLinkSupport links a probe file inside path and verifies that the
// file system counts both names.
func CheckHardLinkSupport(path string) (err error) {
	probe := filepath.Join(path, ".pgl-dedup-linktest.tmp")
	link := probe + ".link"
	_ = os.Remove(link)
	if err := os.WriteFile(probe, nil, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to create hard link probe in %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, removeIfExists(link), removeIfExists(probe))
	}()

	if err := os.Link(probe, link); err != nil {
		return fmt.Errorf("file system of %s does not support hard links: %w", path, err)
	}
	n, err := hardlink.LinkCount(probe)
	if err != nil {
		return fmt.Errorf("failed to read link count in %s: %w", path, err)
	}
	if n != 2 {
		return fmt.Errorf("file system of %s reports %d links for a file with 2 names", path, n)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// validateMountPoint walks up to the deepest existing ancestor of path and
// checks that it is not the system disk.
func validateMountPoint(path string) error {
	ancestor := path
	for {
		if _, err := os.Stat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}
	return platformValidateMountPoint(ancestor)
}
