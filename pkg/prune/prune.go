// Package prune deletes store files no backup refers to anymore.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/fileops"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/pipeline"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// noLimit deletes regardless of the link count.
const noLimit = math.MaxUint64

type Options struct {
	// Linker defaults to hardlink.OS.
	Linker hardlink.Linker
	// Metrics defaults to metrics.NoopMetrics.
	Metrics metrics.Metrics
}

// Pruner clears the name store and deletes content store files whose only
// remaining name is the store entry itself.
type Pruner struct {
	layout  store.Layout
	ops     *fileops.Ops
	linker  hardlink.Linker
	metrics metrics.Metrics
	dryRun  bool

	errors    pipeline.ErrorQueue
	tally     pipeline.Tally
	inspected atomic.Int64
	start     time.Time
}

func New(cfg config.Config, opts Options) (*Pruner, error) {
	layout := store.NewLayout(cfg.MainFolder)
	info, err := os.Stat(cfg.MainFolder)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("the main folder %q does not exist", cfg.MainFolder)
	}
	if info, err := os.Stat(layout.ContentDir()); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("in the main folder %q there is no content store folder %q", cfg.MainFolder, store.ContentFolder)
	}

	p := &Pruner{
		layout:  layout,
		ops:     fileops.New(cfg.Engine.RetryCount, time.Duration(cfg.Engine.RetryWaitSeconds)*time.Second),
		linker:  opts.Linker,
		metrics: opts.Metrics,
		dryRun:  cfg.Runtime.DryRun,
	}
	if p.linker == nil {
		p.linker = hardlink.OS{}
	}
	if p.metrics == nil {
		p.metrics = &metrics.NoopMetrics{}
	}
	return p, nil
}

// Run deletes the name store files first, so that they no longer count as
// links of the content files.
func (p *Pruner) Run(ctx context.Context) error {
	p.start = time.Now()
	if p.dryRun {
		plog.Info("[DRY RUN] Name store links are still counted, fewer content files are listed than a real run deletes")
	}

	if info, err := os.Stat(p.layout.NameDir()); err == nil && info.IsDir() {
		plog.Info("Clearing name store", "path", p.layout.NameDir())
		if err := p.deleteFiles(ctx, p.layout.NameDir(), noLimit); err != nil {
			return err
		}
	}

	plog.Info("Pruning content store", "path", p.layout.ContentDir())
	if err := p.deleteFiles(ctx, p.layout.ContentDir(), 1); err != nil {
		return err
	}
	plog.Info("Prune finished", "inspected", p.inspected.Load(), "deleted", p.tally.Succeeded(), "errors", p.tally.Failed())
	return nil
}

// deleteFiles deletes every file in the fan-out folders of base that has at
// most maxLinks names. Listing and delete errors are reported and skipped.
func (p *Pruner) deleteFiles(ctx context.Context, base string, maxLinks uint64) error {
	for dir := range store.ShardDirs(base) {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			p.errors.Pushf("Error listing content of directory %s: %v", dir, err)
			p.tally.AddProcessed(true)
		}

		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			p.tally.SetCurrent(path)
			p.inspected.Add(1)

			if maxLinks != noLimit {
				n, err := p.linker.LinkCount(path)
				if err != nil {
					p.errors.Pushf("Error inspecting or deleting %s: %v", path, err)
					p.tally.AddProcessed(true)
					continue
				}
				if n > maxLinks {
					continue
				}
			}

			if p.dryRun {
				plog.Notice("[DRY RUN] DELETE", "path", path)
				continue
			}
			if err := p.ops.Remove(path); err != nil {
				p.errors.Pushf("Error inspecting or deleting %s: %v", path, err)
				p.tally.AddProcessed(true)
				continue
			}
			p.tally.AddProcessed(false)
			p.metrics.AddStoreFilesDeleted(1)
		}
	}
	return nil
}

// Diagnostics reports inspected files as created and deletions as processed.
func (p *Pruner) Diagnostics() pipeline.Diagnostics {
	d := pipeline.Diagnostics{
		Created:     p.inspected.Load(),
		Processed:   p.tally.Processed(),
		Failed:      p.tally.Failed(),
		CurrentFile: p.tally.Current(),
	}
	if !p.start.IsZero() {
		d.Elapsed = time.Since(p.start)
	}
	return d
}

// Errors drains the messages reported since the last call.
func (p *Pruner) Errors() []string {
	return p.errors.Drain()
}
