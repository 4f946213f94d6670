package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/filter"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// RunInit handles the logic for the 'init' command. It writes the job file
// to -config, or to pgl-dedup.config.json in the main folder given by -base.
// An existing job file is updated unless -default is set.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	cfgPath, err := initConfigPath(flagMap)
	if err != nil {
		return err
	}

	initDefault, _ := flagMap["default"].(bool)
	force, _ := flagMap["force"].(bool)

	var baseConfig config.Config
	_, statErr := os.Stat(cfgPath)
	switch {
	case statErr != nil:
		baseConfig = config.NewDefault()
	case initDefault:
		if !force {
			fmt.Printf("WARNING: Configuration file already exists at %s.\n", cfgPath)
			fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
			ok, err := confirm("Are you sure you want to continue?")
			if err != nil {
				return err
			}
			if !ok {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}
		baseConfig = config.NewDefault()
	default:
		baseConfig, err = config.Load(cfgPath)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	if _, ok := flagMap["source"]; ok {
		entry, err := entryFromFlags(flagMap)
		if err != nil {
			return err
		}
		runConfig.Entries = upsertEntry(runConfig.Entries, entry)
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	if runConfig.Runtime.DryRun {
		runConfig.LogSummary()
		plog.Info("[DRY RUN] Initialization complete. No changes made.", "config", cfgPath)
		return nil
	}

	startTime := time.Now()
	if err := os.MkdirAll(runConfig.MainFolder, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create main folder: %w", err)
	}
	if err := preflightCheck(ctx, runConfig, &preflight.Plan{
		MainFolderAccessible: true,
		MainFolderMounted:    true,
		SourcesAccessible:    true,
		MainFolderWritable:   true,
		HardLinks:            true,
	}); err != nil {
		return fmt.Errorf("initialization %w", err)
	}

	release, err := acquireLock(ctx, runConfig, flagparse.Init)
	if err != nil {
		return err
	}
	defer release()

	runConfig.SchemaVersion = config.CurrentSchemaVersion
	if err := config.Generate(cfgPath, runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" main folder successfully initialized.", "config", cfgPath, "duration", duration)
	return nil
}

func initConfigPath(flagMap map[string]any) (string, error) {
	if p, ok := flagMap["config"].(string); ok && p != "" {
		abs, err := util.AbsPath(p)
		if err != nil {
			return "", fmt.Errorf("could not determine absolute config path for %s: %w", p, err)
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			abs = filepath.Join(abs, config.ConfigFileName)
		}
		return abs, nil
	}
	base, ok := flagMap["base"].(string)
	if !ok || base == "" {
		return "", fmt.Errorf("the -base flag is required for the init operation")
	}
	absBase, err := util.AbsPath(base)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute base path for %s: %w", base, err)
	}
	return filepath.Join(absBase, config.ConfigFileName), nil
}

// entryFromFlags builds the entry described by -source, -destination and -exclude.
func entryFromFlags(flagMap map[string]any) (config.EntryConfig, error) {
	src, _ := flagMap["source"].(string)
	if src == "" {
		return config.EntryConfig{}, fmt.Errorf("the -source flag cannot be empty")
	}
	absSrc, err := util.AbsPath(src)
	if err != nil {
		return config.EntryConfig{}, fmt.Errorf("could not determine absolute source path for %s: %w", src, err)
	}

	dest, _ := flagMap["destination"].(string)
	if dest == "" {
		dest = filepath.Base(absSrc)
	}

	entry := config.EntryConfig{Source: absSrc, Destination: dest, Filters: []filter.Rule{}}
	if patterns, ok := flagMap["exclude"].([]string); ok {
		for _, p := range patterns {
			entry.Filters = append(entry.Filters, filter.Rule{Action: filter.Exclude, Pattern: p})
		}
	}
	return entry, nil
}

// upsertEntry replaces the entry with the same destination or appends e.
func upsertEntry(entries []config.EntryConfig, e config.EntryConfig) []config.EntryConfig {
	for i := range entries {
		if strings.EqualFold(entries[i].Destination, e.Destination) {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}
