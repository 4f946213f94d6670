package backup

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/filter"
	"github.com/paulschiretz/pgl-dedup/pkg/pipeline"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// groupByVolume partitions entries by the device of their source. Entries
// on one disk are walked one after another. Sources that cannot be
// stat'ed form a group of their own and fail when walked.
func groupByVolume(entries []config.EntryConfig) [][]config.EntryConfig {
	var groups [][]config.EntryConfig
	index := make(map[string]int)
	for _, e := range entries {
		key, err := preflight.VolumeKey(e.Source)
		if err != nil {
			groups = append(groups, []config.EntryConfig{e})
			continue
		}
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], e)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []config.EntryConfig{e})
	}
	return groups
}

// produce walks all entries and submits one item per included file.
// Listing errors are reported through the error queue and never stop the
// walk of sibling folders.
func (w *Worker) produce(ctx context.Context, submit func(*pipeline.Item)) error {
	groups := groupByVolume(w.entries)
	plog.Debug("Walking sources", "entries", len(w.entries), "volumes", len(groups))

	var g errgroup.Group
	for _, group := range groups {
		g.Go(func() error {
			for _, e := range group {
				if ctx.Err() != nil {
					return nil
				}
				w.walkEntry(ctx, e, submit)
			}
			return nil
		})
	}
	return g.Wait()
}

// entryWalk holds what stays fixed while one entry is walked.
type entryWalk struct {
	entry  config.EntryConfig
	filter *filter.Filter
	submit func(*pipeline.Item)
}

func (w *Worker) walkEntry(ctx context.Context, e config.EntryConfig, submit func(*pipeline.Item)) {
	res := w.res
	if err := preflight.CheckSourceAccessible(e.Source); err != nil {
		res.Errors.Pushf("Backup of folder %s failed: %v", e.Source, err)
		return
	}

	dest := filepath.Join(w.today, e.Destination)
	if !w.dryRun {
		if err := res.Ops.MkdirAll(dest); err != nil {
			res.Errors.Pushf("Backup of folder %s failed. Could not create destination directory: %v", e.Source, err)
			return
		}
		res.Metrics.AddDirsCreated(1)
	}

	plog.Info("Backing up", "source", e.Source, "destination", dest)
	ew := &entryWalk{entry: e, filter: filter.New(e.Filters), submit: submit}
	w.walkDir(ctx, ew, e.Source, dest, "/", e.SymlinkDepth())
}

// walkDir submits the files of srcDir, then descends into its
// subdirectories. rel is the path of srcDir relative to the entry source,
// with leading and trailing slash, as matched by the filter.
func (w *Worker) walkDir(ctx context.Context, ew *entryWalk, srcDir, destDir, rel string, symlinkBudget int) {
	res := w.res
	dirEntries, err := os.ReadDir(srcDir)
	if err != nil {
		// ReadDir returns what it could read before the error.
		res.Errors.Pushf("Folder %s: %v", srcDir, err)
	}

	type subdir struct {
		name    string
		symlink bool
	}
	var subdirs []subdir

	for _, de := range dirEntries {
		if ctx.Err() != nil {
			return
		}
		name := de.Name()
		path := filepath.Join(srcDir, name)

		if de.IsDir() {
			subdirs = append(subdirs, subdir{name: name})
			continue
		}

		var info os.FileInfo
		symlink := de.Type()&os.ModeSymlink != 0
		if symlink {
			info, err = os.Stat(path)
		} else {
			info, err = de.Info()
		}
		if err != nil {
			res.Errors.Pushf("File %s: %v", path, err)
			continue
		}
		if info.IsDir() {
			subdirs = append(subdirs, subdir{name: name, symlink: true})
			continue
		}
		if !info.Mode().IsRegular() {
			plog.Debug("Skipping special file", "path", path, "mode", info.Mode().String())
			continue
		}
		if !ew.filter.IsPathIncluded(rel + name) {
			res.Metrics.AddFilesExcluded(1)
			continue
		}
		w.emit(ew, path, filepath.Join(destDir, name), info)
	}

	for _, sd := range subdirs {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(srcDir, sd.name)
		relSub := rel + sd.name + "/"
		if !ew.filter.IsPathIncluded(relSub) {
			res.Metrics.AddFilesExcluded(1)
			continue
		}

		budget := symlinkBudget
		if sd.symlink {
			budget--
		}
		if budget < 0 {
			res.Errors.Pushf("Folder ignored because user symlink limit was reached: %s", path)
			continue
		}

		subDest := filepath.Join(destDir, sd.name)
		if !w.dryRun {
			if err := res.Ops.MkdirAll(subDest); err != nil {
				res.Errors.Pushf("Folder %s: %v", path, err)
				continue
			}
			res.Metrics.AddDirsCreated(1)
		}
		w.walkDir(ctx, ew, path, subDest, relSub, budget)
	}
}

func (w *Worker) emit(ew *entryWalk, source, target string, info os.FileInfo) {
	if w.dryRun {
		plog.Notice("[DRY RUN] BACKUP", "path", source)
		return
	}
	res := w.res
	first := pipeline.Reader
	var namePath string
	if w.fast {
		first = pipeline.Writer
		namePath = res.Layout.NamePath(store.NameDigest(res.Hashes, ew.entry.Destination, source))
	}
	it := pipeline.NewItem(res, source, target, info, first, w.write)
	it.NamePath = namePath
	ew.submit(it)
}
