package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/backup"
	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/hints"
	"github.com/paulschiretz/pgl-dedup/pkg/hook"
	"github.com/paulschiretz/pgl-dedup/pkg/metafile"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
)

// RunBackup handles the logic for the backup command.
func RunBackup(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Backup, flagMap)
	if err != nil {
		return err
	}

	if err := preflightCheck(ctx, runConfig, &preflight.Plan{
		MainFolderAccessible: true,
		MainFolderMounted:    true,
		SourcesAccessible:    true,
		MainFolderWritable:   true,
		HardLinks:            true,
	}); err != nil {
		return err
	}

	release, err := acquireLock(ctx, runConfig, flagparse.Backup)
	if err != nil {
		return err
	}
	defer release()

	m := newMetrics(runConfig)
	worker, err := backup.New(runConfig, backup.Options{Metrics: m})
	if err != nil {
		return err
	}
	attach(m, worker)

	hookPlan := &hook.Plan{
		Enabled:      true,
		PreCommands:  runConfig.Hooks.PreBackup,
		PostCommands: runConfig.Hooks.PostBackup,
		MainFolder:   runConfig.MainFolder,
		TodayFolder:  worker.TodayFolder(),
		DryRun:       runConfig.Runtime.DryRun,
		FailFast:     true,
	}
	executor := hook.NewExecutor(nil)
	startTime := time.Now()

	if err := executor.Run(ctx, hook.Pre, hookPlan, "ok", startTime.UTC()); err != nil && !hints.IsHint(err) {
		return fmt.Errorf("pre-backup hook failed: %w", err)
	}

	m.StartProgress("Backup progress", progressInterval(runConfig))
	runErr := worker.Run(ctx)
	m.StopProgress()
	m.LogSummary("Backup summary")
	duration := time.Since(startTime).Round(time.Millisecond)

	failures := worker.Failures()
	reportErr := reportErrors("backup", worker, failures)
	if runErr == nil {
		runErr = reportErr
	}

	if !runConfig.Runtime.DryRun {
		writeMetafile(runConfig, worker, startTime, duration, runErr == nil)
	}

	status := "ok"
	if runErr != nil {
		status = "failed"
	}
	// A cancelled run still gets its post hooks, they often undo what the pre hooks did.
	hookPlan.FailFast = false
	if err := executor.Run(context.WithoutCancel(ctx), hook.Post, hookPlan, status, startTime.UTC()); err != nil && !hints.IsHint(err) {
		plog.Warn("Post-backup hooks reported errors", "error", err)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("backup canceled after %s: %w", duration, runErr)
		}
		return runErr
	}
	plog.Info(buildinfo.Name+" backup finished successfully.", "today", worker.TodayFolder(), "duration", duration)
	return nil
}

func writeMetafile(cfg config.Config, w *backup.Worker, start time.Time, duration time.Duration, complete bool) {
	diag := w.Diagnostics()
	content := &metafile.MetafileContent{
		Version:       buildinfo.Version,
		TimestampUTC:  start.UTC(),
		Mode:          cfg.Mode,
		HashAlgorithm: cfg.HashAlgorithm,
		Files:         diag.Processed - diag.Failed,
		Failures:      diag.Failed,
		Duration:      duration.String(),
		Complete:      complete,
	}
	for _, e := range cfg.EnabledEntries() {
		content.Entries = append(content.Entries, metafile.Entry{Source: e.Source, Destination: e.Destination})
	}
	if err := metafile.Write(w.TodayFolder(), content); err != nil {
		plog.Warn("Could not write run record", "folder", w.TodayFolder(), "error", err)
	}
}
