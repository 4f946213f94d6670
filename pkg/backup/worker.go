// Package backup runs a deduplicating backup of the configured entries into
// today's folder below the main folder.
package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/pipeline"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

// Options holds what a Worker takes besides the job file.
type Options struct {
	// Linker defaults to hardlink.OS.
	Linker hardlink.Linker
	// Metrics defaults to metrics.NoopMetrics.
	Metrics metrics.Metrics
	// Now names today's folder. Defaults to time.Now.
	Now func() time.Time
	// PollInterval defaults to pipeline.DefaultPollInterval.
	PollInterval time.Duration
}

// Worker backs up the enabled entries of one job.
type Worker struct {
	entries   []config.EntryConfig
	today     string
	fast      bool
	dryRun    bool
	res       *pipeline.Resources
	engineCfg pipeline.EngineConfig
	engine    atomic.Pointer[pipeline.Engine]
}

// New validates cfg and prepares a run. It fails with ErrDestinationExists
// if one of the entry folders below today's folder is already there.
func New(cfg config.Config, opts Options) (*Worker, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	entries := cfg.EnabledEntries()
	today := filepath.Join(cfg.MainFolder, TodayName(cfg.Today, now()))
	if err := validate(cfg.MainFolder, today, entries); err != nil {
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
	return &Worker{
		entries:   entries,
		today:     today,
		fast:      cfg.Mode == config.ModeFast,
		dryRun:    cfg.Runtime.DryRun,
		res:       res,
		engineCfg: engineCfg,
	}, nil
}

// TodayFolder returns the folder the entries are backed up into.
func (w *Worker) TodayFolder() string {
	return w.today
}

// Run backs up all entries and returns once every file is processed. Files
// that fail are recorded and do not stop the run. A cancelled ctx stops the
// walk; items already submitted are still finished.
func (w *Worker) Run(ctx context.Context) error {
	if !w.dryRun {
		dirs := []string{w.res.Layout.ContentDir(), w.today}
		if w.fast {
			dirs = append(dirs, w.res.Layout.NameDir())
		}
		for _, dir := range dirs {
			if err := w.res.Ops.MkdirAll(dir); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}

	e := pipeline.NewEngine(w.res, w.engineCfg)
	w.engine.Store(e)
	err := e.Run(func(submit func(*pipeline.Item)) error {
		return w.produce(ctx, submit)
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := w.res.Tally
	plog.Info("Backup finished", "files", t.Created(), "failed", t.Failed(), "today", w.today)
	return nil
}

// Diagnostics returns the live counters of the run.
func (w *Worker) Diagnostics() pipeline.Diagnostics {
	if e := w.engine.Load(); e != nil {
		return e.Diagnostics()
	}
	return pipeline.Diagnostics{}
}

// Errors drains the messages reported since the last call.
func (w *Worker) Errors() []string {
	return w.res.Errors.Drain()
}

// Failures returns the failed source files and their errors.
func (w *Worker) Failures() map[string]error {
	return w.res.Failures.Items()
}
