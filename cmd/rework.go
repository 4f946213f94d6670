package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/rework"
)

// RunRework handles the logic for the rework command. Positional arguments
// select the folders below the main folder, none means all of them.
func RunRework(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Rework, flagMap)
	if err != nil {
		return err
	}

	// Rework reads no sources; the entries of the job file are irrelevant here.
	runConfig.Entries = nil
	if err := preflightCheck(ctx, runConfig, &preflight.Plan{
		MainFolderAccessible: true,
		MainFolderWritable:   true,
		HardLinks:            true,
	}); err != nil {
		return err
	}

	release, err := acquireLock(ctx, runConfig, flagparse.Rework)
	if err != nil {
		return err
	}
	defer release()

	folders, _ := flagMap["folders"].([]string)
	m := newMetrics(runConfig)
	reworker, err := rework.New(runConfig, rework.Options{Folders: folders, Metrics: m})
	if err != nil {
		return err
	}
	attach(m, reworker)
	plog.Info("Reworking folders", "folders", reworker.Folders())

	startTime := time.Now()
	m.StartProgress("Rework progress", progressInterval(runConfig))
	runErr := reworker.Run(ctx)
	m.StopProgress()
	m.LogSummary("Rework summary")
	duration := time.Since(startTime).Round(time.Millisecond)

	reportErr := reportErrors("rework", reworker, reworker.Failures())
	if runErr != nil {
		return runErr
	}
	if reportErr != nil {
		return reportErr
	}
	plog.Info(buildinfo.Name+" rework finished successfully.", "duration", duration)
	return nil
}
