package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/lockfile"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/pipeline"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
)

// job is what the commands share about a running pipeline.
type job interface {
	Diagnostics() pipeline.Diagnostics
	Errors() []string
}

// loadRunConfig resolves the job file for command, merges the flags over it
// and validates the result. The job file is taken from -config, then from
// -base, then from the working directory.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	path := "."
	if base, ok := flagMap["base"].(string); ok && base != "" {
		path = base
	}
	if cfgPath, ok := flagMap["config"].(string); ok && cfgPath != "" {
		path = cfgPath
	}

	loadedConfig, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary()
	return runConfig, nil
}

func sources(cfg config.Config) []string {
	var out []string
	for _, e := range cfg.EnabledEntries() {
		out = append(out, e.Source)
	}
	return out
}

func preflightCheck(ctx context.Context, cfg config.Config, p *preflight.Plan) error {
	p.DryRun = cfg.Runtime.DryRun
	if err := preflight.NewValidator().Run(ctx, cfg.MainFolder, sources(cfg), p); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	return nil
}

// acquireLock locks the main folder for command. A dry run changes nothing
// and runs without the lock.
func acquireLock(ctx context.Context, cfg config.Config, command flagparse.Command) (release func(), err error) {
	if cfg.Runtime.DryRun {
		return func() {}, nil
	}
	lock, err := lockfile.Acquire(ctx, cfg.MainFolder, command.String())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock on main folder: %w", err)
	}
	return lock.Release, nil
}

func newMetrics(cfg config.Config) metrics.Metrics {
	if cfg.Engine.Metrics {
		return &metrics.PipelineMetrics{}
	}
	return &metrics.NoopMetrics{}
}

// attach makes every progress and summary line of m carry the diagnostics of j.
func attach(m metrics.Metrics, j job) {
	if pm, ok := m.(*metrics.PipelineMetrics); ok {
		pm.Extra = func() []any { return j.Diagnostics().LogArgs() }
	}
}

func progressInterval(cfg config.Config) time.Duration {
	return time.Duration(cfg.Engine.ProgressSeconds) * time.Second
}

// reportErrors logs what the job reported and turns it into the error of the run.
func reportErrors(name string, j job, failures map[string]error) error {
	msgs := j.Errors()
	for _, msg := range msgs {
		plog.Warn(msg)
	}
	for path, err := range failures {
		plog.Debug("Failed file", "path", path, "error", err)
	}
	if len(msgs) == 0 && len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("%s completed with %d errors and %d failed files", name, len(msgs), len(failures))
}
