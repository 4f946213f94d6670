package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/prune"
)

// RunPrune handles the logic for the prune command.
func RunPrune(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Prune, flagMap)
	if err != nil {
		return err
	}

	runConfig.Entries = nil
	if err := preflightCheck(ctx, runConfig, &preflight.Plan{
		MainFolderAccessible: true,
		MainFolderWritable:   true,
	}); err != nil {
		return err
	}

	if !runConfig.Runtime.DryRun && !runConfig.Runtime.Force {
		fmt.Printf("This operation clears the name store and permanently deletes every content store file\n")
		fmt.Printf("that is no longer linked from a backup folder in %s.\n", runConfig.MainFolder)
		ok, err := confirm("Are you sure you want to continue?")
		if err != nil {
			return err
		}
		if !ok {
			plog.Info(buildinfo.Name + " prune operation canceled.")
			return nil
		}
	}

	release, err := acquireLock(ctx, runConfig, flagparse.Prune)
	if err != nil {
		return err
	}
	defer release()

	m := newMetrics(runConfig)
	pruner, err := prune.New(runConfig, prune.Options{Metrics: m})
	if err != nil {
		return err
	}
	attach(m, pruner)

	startTime := time.Now()
	m.StartProgress("Prune progress", progressInterval(runConfig))
	runErr := pruner.Run(ctx)
	m.StopProgress()
	m.LogSummary("Prune summary")
	duration := time.Since(startTime).Round(time.Millisecond)

	reportErr := reportErrors("prune", pruner, nil)
	if runErr != nil {
		return runErr
	}
	if reportErr != nil {
		return reportErr
	}
	plog.Info(buildinfo.Name+" prune finished successfully.", "duration", duration)
	return nil
}
