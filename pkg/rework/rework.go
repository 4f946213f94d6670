// Package rework converts plain backup folders below the main folder into
// hard links to the content store, without rewriting file content.
package rework

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/pipeline"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// internalPrefix marks files the tool itself keeps in backup folders.
const internalPrefix = ".pgl-dedup"

const tempSuffix = ".pgl-dedup.tmp"

type Options struct {
	// Folders to rework. Defaults to every folder below the main folder
	// except the stores.
	Folders []string
	// Linker defaults to hardlink.OS.
	Linker hardlink.Linker
	// Metrics defaults to metrics.NoopMetrics.
	Metrics      metrics.Metrics
	PollInterval time.Duration
}

// Reworker links existing backup folders to the content store.
type Reworker struct {
	folders   []string
	dryRun    bool
	res       *pipeline.Resources
	engineCfg pipeline.EngineConfig
	engine    atomic.Pointer[pipeline.Engine]
}

func New(cfg config.Config, opts Options) (*Reworker, error) {
	if err := preflight.CheckMainFolderAccessible(cfg.MainFolder); err != nil {
		return nil, err
	}
	folders, err := resolveFolders(cfg.MainFolder, opts.Folders)
	if err != nil {
		return nil, err
	}

	resOpts := pipeline.OptionsFromConfig(cfg)
	resOpts.Linker = opts.Linker
	resOpts.Metrics = opts.Metrics
	res, err := pipeline.NewResources(resOpts)
	if err != nil {
		return nil, err
	}
	engineCfg := pipeline.EngineConfigFromConfig(cfg)
	engineCfg.PollInterval = opts.PollInterval

	return &Reworker{
		folders:   folders,
		dryRun:    cfg.Runtime.DryRun,
		res:       res,
		engineCfg: engineCfg,
	}, nil
}

// resolveFolders validates the requested folders or lists the backup
// folders of mainFolder.
func resolveFolders(mainFolder string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		entries, err := os.ReadDir(mainFolder)
		if err != nil {
			return nil, fmt.Errorf("failed to list main folder: %w", err)
		}
		var folders []string
		for _, e := range entries {
			if e.IsDir() && !store.IsStoreFolder(e.Name()) {
				folders = append(folders, filepath.Join(mainFolder, e.Name()))
			}
		}
		return folders, nil
	}

	folders := make([]string, 0, len(requested))
	for _, f := range requested {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(mainFolder, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("folder %s is not inside the main folder %s", abs, mainFolder)
		}
		if store.IsStoreFolder(strings.Split(filepath.ToSlash(rel), "/")[0]) {
			return nil, fmt.Errorf("folder %s belongs to a store", abs)
		}
		if err := preflight.CheckSourceAccessible(abs); err != nil {
			return nil, err
		}
		folders = append(folders, abs)
	}
	return folders, nil
}

// Folders returns the folders Run walks.
func (r *Reworker) Folders() []string {
	return r.folders
}

// Run reworks every regular file of the folders. Symlinks are left alone.
func (r *Reworker) Run(ctx context.Context) error {
	if !r.dryRun {
		if err := r.res.Ops.MkdirAll(r.res.Layout.ContentDir()); err != nil {
			return fmt.Errorf("failed to create content store: %w", err)
		}
	}

	e := pipeline.NewEngine(r.res, r.engineCfg)
	r.engine.Store(e)
	err := e.Run(func(submit func(*pipeline.Item)) error {
		r.produce(ctx, submit)
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t := r.res.Tally
	plog.Info("Rework finished", "files", t.Created(), "failed", t.Failed())
	return nil
}

func (r *Reworker) produce(ctx context.Context, submit func(*pipeline.Item)) {
	res := r.res
	for _, folder := range r.folders {
		plog.Info("Reworking", "folder", folder)
		_ = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				res.Errors.Pushf("Folder %s: %v", path, err)
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if strings.HasPrefix(d.Name(), internalPrefix) || strings.HasSuffix(d.Name(), tempSuffix) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				res.Errors.Pushf("File %s: %v", path, err)
				return nil
			}
			if r.dryRun {
				plog.Notice("[DRY RUN] REWORK", "path", path)
				return nil
			}
			submit(pipeline.NewItem(res, path, path, info, pipeline.Reader, r.write))
			return nil
		})
	}
}

// write links the file to the store. If the store has no file for the
// content yet, the file itself becomes the store entry.
func (r *Reworker) write(it *pipeline.Item) (pipeline.Stage, error) {
	res := it.Resources()
	exists, err := res.Ops.FileExists(it.ContentPath)
	if err != nil {
		return pipeline.Finished, err
	}
	if !exists {
		adopted, err := r.adopt(it)
		if err != nil || adopted {
			return pipeline.Finished, err
		}
	}
	return pipeline.Finished, r.replaceWithLink(it)
}

// adopt makes the file the content store entry. It reports false if another
// item stored the same content first.
func (r *Reworker) adopt(it *pipeline.Item) (bool, error) {
	res := it.Resources()
	if err := res.Dirs.Ensure(filepath.Dir(it.ContentPath)); err != nil {
		return false, err
	}
	err := res.Ops.Execute("link "+it.ContentPath, func() error {
		return res.Linker.Link(it.Source, it.ContentPath)
	})
	switch {
	case err == nil:
		res.Metrics.AddStoreFilesCreated(1)
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	case hardlink.IsTooManyLinks(err):
		// The file has too many names already, store a copy instead.
		res.Metrics.AddLinkLimitRecoveries(1)
		if err := res.Ops.Copy(it.Source, it.ContentPath, it.Header.ModTime, it.Header.Attributes); err != nil {
			return false, err
		}
		res.Metrics.AddStoreFilesCreated(1)
		res.Metrics.AddBytesWritten(it.Header.Length)
		return true, nil
	default:
		return false, err
	}
}

// replaceWithLink swaps the file for a link to the store entry. The link is
// created next to the file first and renamed over it, so the file is never
// missing.
func (r *Reworker) replaceWithLink(it *pipeline.Item) error {
	res := it.Resources()
	same, err := sameFile(it.Source, it.ContentPath)
	if err != nil || same {
		return err
	}

	tmp := it.Source + tempSuffix
	if err := res.Ops.Remove(tmp); err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err := res.Ops.Execute("link "+tmp, func() error {
			return res.Linker.Link(it.ContentPath, tmp)
		})
		if err == nil {
			break
		}
		if !hardlink.IsTooManyLinks(err) || attempt >= res.Ops.RetryCount() {
			return err
		}
		res.Metrics.AddLinkLimitRecoveries(1)
		if err := r.renewStoreFile(it); err != nil {
			return err
		}
	}

	err = res.Ops.Execute("replace "+it.Source, func() error {
		err := os.Rename(tmp, it.Source)
		if errors.Is(err, fs.ErrPermission) {
			// Windows refuses to replace read-only files.
			if rmErr := res.Ops.Remove(it.Source); rmErr == nil {
				err = os.Rename(tmp, it.Source)
			}
		}
		return err
	})
	if err != nil {
		_ = res.Ops.Remove(tmp)
		return err
	}
	res.Metrics.AddFilesLinked(1)
	return nil
}

// renewStoreFile replaces a saturated store file with a fresh copy. The old
// inode stays alive through the backups linked to it.
func (r *Reworker) renewStoreFile(it *pipeline.Item) error {
	res := it.Resources()
	saturated := it.ContentPath + tempSuffix
	plog.Debug("Store file reached its link limit, storing a fresh copy", "path", it.ContentPath)
	if err := res.Ops.Remove(saturated); err != nil {
		return err
	}
	err := res.Ops.Execute("rename "+it.ContentPath, func() error {
		return os.Rename(it.ContentPath, saturated)
	})
	if err != nil {
		return err
	}
	if err := res.Ops.Copy(saturated, it.ContentPath, it.Header.ModTime, it.Header.Attributes); err != nil {
		return err
	}
	res.Metrics.AddStoreFilesCreated(1)
	res.Metrics.AddBytesWritten(it.Header.Length)
	return res.Ops.Remove(saturated)
}

func sameFile(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ia, ib), nil
}

// Diagnostics returns the live counters of the run.
func (r *Reworker) Diagnostics() pipeline.Diagnostics {
	if e := r.engine.Load(); e != nil {
		return e.Diagnostics()
	}
	return pipeline.Diagnostics{}
}

// Errors drains the messages reported since the last call.
func (r *Reworker) Errors() []string {
	return r.res.Errors.Drain()
}

// Failures returns the failed files and their errors.
func (r *Reworker) Failures() map[string]error {
	return r.res.Failures.Items()
}
