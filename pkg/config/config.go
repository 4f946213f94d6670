package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/filter"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// ConfigFileName is the job file looked up when a directory is given.
const ConfigFileName = "pgl-dedup.config.json"

// CurrentSchemaVersion is written by Generate. Files without a schema version
// are schema 1.
const CurrentSchemaVersion = 2

const (
	// LegacySymlinkDepth applies to schema 1 entries without a depth.
	LegacySymlinkDepth = 4
	// DefaultSymlinkDepth applies to later entries without a depth.
	DefaultSymlinkDepth = 16
)

const (
	ModeFast   = "fast"
	ModeSecure = "secure"
)

const (
	TodayDateTime = "datetime"
	TodayDate     = "date"
	TodayNone     = "none"
)

// EntryConfig maps one source directory to a destination folder below
// today's folder.
type EntryConfig struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	// MaxSymlinkDepth is the number of symlinked directories a walk may
	// descend through. nil means the schema default.
	MaxSymlinkDepth *int          `json:"maxSymlinkDepth,omitempty" yaml:"maxSymlinkDepth,omitempty"`
	Filters         []filter.Rule `json:"filters" yaml:"filters"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func (e EntryConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// SymlinkDepth returns the configured depth or DefaultSymlinkDepth.
func (e EntryConfig) SymlinkDepth() int {
	if e.MaxSymlinkDepth == nil {
		return DefaultSymlinkDepth
	}
	return *e.MaxSymlinkDepth
}

type TodayConfig struct {
	// Style is 'datetime', 'date' or 'none'.
	Style    string `json:"style" yaml:"style"`
	PreText  string `json:"preText" yaml:"preText"`
	PostText string `json:"postText" yaml:"postText"`
}

type BufferConfig struct {
	MinKB    int `json:"minKB" yaml:"minKB"`
	MaxMB    int `json:"maxMB" yaml:"maxMB"`
	WindowMB int `json:"windowMB" yaml:"windowMB"`
	// BudgetMB caps the memory held by whole-file buffers. 0 means unlimited.
	BudgetMB int `json:"budgetMB" yaml:"budgetMB"`
}

type EngineConfig struct {
	Metrics          bool         `json:"metrics" yaml:"metrics"`
	ProgressSeconds  int          `json:"progressSeconds" yaml:"progressSeconds"`
	ReaderWorkers    int          `json:"readerWorkers" yaml:"readerWorkers"`
	HasherWorkers    int          `json:"hasherWorkers" yaml:"hasherWorkers"`
	WriterWorkers    int          `json:"writerWorkers" yaml:"writerWorkers"`
	ReaderQueue      int          `json:"readerQueue" yaml:"readerQueue"`
	HasherQueue      int          `json:"hasherQueue" yaml:"hasherQueue"`
	WriterQueue      int          `json:"writerQueue" yaml:"writerQueue"`
	RetryCount       int          `json:"retryCount" yaml:"retryCount"`
	RetryWaitSeconds int          `json:"retryWaitSeconds" yaml:"retryWaitSeconds"`
	Buffers          BufferConfig `json:"buffers" yaml:"buffers"`
}

type HooksConfig struct {
	// Note: omitempty is intentionally not used so that the hook fields
	// appear in the generated config file for better discoverability.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreBackup  []string `json:"preBackup" yaml:"preBackup"`
	PostBackup []string `json:"postBackup" yaml:"postBackup"`
}

type RuntimeConfig struct {
	DryRun bool
	Force  bool
	// Path is the file the config was loaded from.
	Path string
}

type Config struct {
	SchemaVersion int           `json:"schemaVersion" yaml:"schemaVersion"`
	Version       string        `json:"version" yaml:"version"`
	MainFolder    string        `json:"mainFolder" yaml:"mainFolder"`
	Mode          string        `json:"mode" yaml:"mode"`
	HashAlgorithm string        `json:"hashAlgorithm" yaml:"hashAlgorithm"`
	LogLevel      string        `json:"logLevel" yaml:"logLevel"`
	Today         TodayConfig   `json:"today" yaml:"today"`
	Entries       []EntryConfig `json:"entries" yaml:"entries"`
	Engine        EngineConfig  `json:"engine" yaml:"engine"`
	Hooks         HooksConfig   `json:"hooks" yaml:"hooks"`
	Runtime       RuntimeConfig `json:"-" yaml:"-"` // Never added to config file
}

// NewDefault returns a Config with the default engine settings and no
// entries.
func NewDefault() Config {
	return Config{
		SchemaVersion: CurrentSchemaVersion,
		Version:       buildinfo.Version,
		MainFolder:    "", // Intentionally empty to force user configuration.
		Mode:          ModeFast,
		HashAlgorithm: store.SHA256,
		LogLevel:      "info",
		Today: TodayConfig{
			Style: TodayDateTime,
		},
		Entries: []EntryConfig{},
		Engine: EngineConfig{
			Metrics:          true,
			ProgressSeconds:  30,
			ReaderWorkers:    1, // One reader per disk avoids seek thrashing.
			HasherWorkers:    8,
			WriterWorkers:    1,
			ReaderQueue:      10,
			HasherQueue:      20,
			WriterQueue:      10,
			RetryCount:       6,
			RetryWaitSeconds: 10,
			Buffers: BufferConfig{
				MinKB:    64,
				MaxMB:    32,
				WindowMB: 4,
				BudgetMB: 512,
			},
		},
		Hooks: HooksConfig{
			PreBackup:  []string{},
			PostBackup: []string{},
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a job file. If path is a directory, ConfigFileName inside it is
// used. Files ending in .yaml or .yml are YAML, everything else JSON.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for %s: %w", path, err)
	}
	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}

	plog.Info("Loading configuration", "path", absPath)
	// Start with default values, then overwrite with the file's content.
	// The schema version is reset so that a file without one is detected as schema 1.
	config := NewDefault()
	config.SchemaVersion = 0
	if isYAML(absPath) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	if err := migrate(&config); err != nil {
		return Config{}, fmt.Errorf("error migrating config file %s: %w", absPath, err)
	}
	config.Version = buildinfo.Version
	config.Runtime.Path = absPath
	return config, nil
}

// migrate brings an older schema up to CurrentSchemaVersion, one version at
// a time.
func migrate(c *Config) error {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = 1
	}
	if c.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", c.SchemaVersion, CurrentSchemaVersion)
	}
	for c.SchemaVersion < CurrentSchemaVersion {
		switch c.SchemaVersion {
		case 1:
			migrateV1(c)
		}
		c.SchemaVersion++
	}
	return nil
}

// migrateV1 pins the old symlink depth default on entries that relied on it.
func migrateV1(c *Config) {
	for i := range c.Entries {
		if c.Entries[i].MaxSymlinkDepth == nil {
			depth := LegacySymlinkDepth
			c.Entries[i].MaxSymlinkDepth = &depth
		}
	}
}

// Generate writes c to path, as YAML if path ends in .yaml or .yml.
func Generate(path string, c Config) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and normalizes paths.
func (c *Config) Validate() error {
	if c.MainFolder == "" {
		return fmt.Errorf("mainFolder cannot be empty")
	}
	var err error
	c.MainFolder, err = util.AbsPath(c.MainFolder)
	if err != nil {
		return fmt.Errorf("could not expand mainFolder: %w", err)
	}

	switch c.Mode {
	case ModeFast, ModeSecure:
	default:
		return fmt.Errorf("invalid mode %q: must be '%s' or '%s'", c.Mode, ModeFast, ModeSecure)
	}
	if _, err := store.HashFunc(c.HashAlgorithm); err != nil {
		return err
	}

	switch c.Today.Style {
	case TodayDateTime, TodayDate, TodayNone:
	default:
		return fmt.Errorf("invalid today.style %q: must be '%s', '%s' or '%s'", c.Today.Style, TodayDateTime, TodayDate, TodayNone)
	}
	if strings.ContainsAny(c.Today.PreText+c.Today.PostText, `\/`) {
		return fmt.Errorf("today.preText and today.postText cannot contain path separators ('/' or '\\')")
	}

	seen := make(map[string]int)
	enabled := 0
	for i := range c.Entries {
		e := &c.Entries[i]
		if !e.IsEnabled() {
			continue
		}
		enabled++
		if e.Destination == "" {
			return fmt.Errorf("entries[%d]: destination cannot be empty", i)
		}
		if strings.ContainsAny(e.Destination, `\/`) || e.Destination == "." || e.Destination == ".." {
			return fmt.Errorf("entries[%d]: destination %q must be a single folder name", i, e.Destination)
		}
		if store.IsStoreFolder(e.Destination) {
			return fmt.Errorf("entries[%d]: destination %q is reserved for the stores", i, e.Destination)
		}
		key := strings.ToLower(e.Destination)
		if j, dup := seen[key]; dup {
			return fmt.Errorf("entries[%d]: destination %q is already used by entries[%d]", i, e.Destination, j)
		}
		seen[key] = i

		if e.Source == "" {
			return fmt.Errorf("entries[%d]: source cannot be empty", i)
		}
		e.Source, err = util.ExpandPath(e.Source)
		if err != nil {
			return fmt.Errorf("entries[%d]: could not expand source path: %w", i, err)
		}
		if !filepath.IsAbs(e.Source) {
			return fmt.Errorf("entries[%d]: source %q must be an absolute path", i, e.Source)
		}
		e.Source = filepath.Clean(e.Source)
		if e.MaxSymlinkDepth != nil && *e.MaxSymlinkDepth < 0 {
			return fmt.Errorf("entries[%d]: maxSymlinkDepth cannot be negative", i)
		}
	}

	eng := c.Engine
	for name, v := range map[string]int{
		"readerWorkers": eng.ReaderWorkers,
		"hasherWorkers": eng.HasherWorkers,
		"writerWorkers": eng.WriterWorkers,
		"readerQueue":   eng.ReaderQueue,
		"hasherQueue":   eng.HasherQueue,
		"writerQueue":   eng.WriterQueue,
	} {
		if v < 1 {
			return fmt.Errorf("engine.%s must be at least 1", name)
		}
	}
	if eng.RetryCount < 0 {
		return fmt.Errorf("engine.retryCount cannot be negative")
	}
	if eng.RetryWaitSeconds < 0 {
		return fmt.Errorf("engine.retryWaitSeconds cannot be negative")
	}
	if eng.ProgressSeconds < 0 {
		return fmt.Errorf("engine.progressSeconds cannot be negative")
	}
	b := eng.Buffers
	if !isPowerOfTwo(b.MinKB) || !isPowerOfTwo(b.MaxMB) || !isPowerOfTwo(b.WindowMB) {
		return fmt.Errorf("engine.buffers minKB, maxMB and windowMB must be powers of two")
	}
	if int64(b.MinKB)*1024 >= int64(b.MaxMB)*1024*1024 {
		return fmt.Errorf("engine.buffers.minKB must be below engine.buffers.maxMB")
	}
	if b.WindowMB > b.MaxMB {
		return fmt.Errorf("engine.buffers.windowMB cannot exceed engine.buffers.maxMB")
	}
	if b.BudgetMB < 0 {
		return fmt.Errorf("engine.buffers.budgetMB cannot be negative")
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// EnabledEntries returns the entries taking part in a run.
func (c *Config) EnabledEntries() []EntryConfig {
	var out []EntryConfig
	for _, e := range c.Entries {
		if e.IsEnabled() {
			out = append(out, e)
		}
	}
	return out
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"main_folder", c.MainFolder,
		"mode", c.Mode,
		"hash", c.HashAlgorithm,
		"log_level", c.LogLevel,
		"today", fmt.Sprintf("%s (pre:%q post:%q)", c.Today.Style, c.Today.PreText, c.Today.PostText),
		"entries", len(c.EnabledEntries()),
		"workers", fmt.Sprintf("r:%d h:%d w:%d", c.Engine.ReaderWorkers, c.Engine.HasherWorkers, c.Engine.WriterWorkers),
		"queues", fmt.Sprintf("r:%d h:%d w:%d", c.Engine.ReaderQueue, c.Engine.HasherQueue, c.Engine.WriterQueue),
		"retry", fmt.Sprintf("%dx%ds", c.Engine.RetryCount, c.Engine.RetryWaitSeconds),
		"buffers", fmt.Sprintf("min:%dKB max:%dMB window:%dMB budget:%dMB",
			c.Engine.Buffers.MinKB, c.Engine.Buffers.MaxMB, c.Engine.Buffers.WindowMB, c.Engine.Buffers.BudgetMB),
		"metrics", c.Engine.Metrics,
		"dry_run", c.Runtime.DryRun,
	}
	if len(c.Hooks.PreBackup) > 0 {
		logArgs = append(logArgs, "pre_backup_hooks", strings.Join(c.Hooks.PreBackup, "; "))
	}
	if len(c.Hooks.PostBackup) > 0 {
		logArgs = append(logArgs, "post_backup_hooks", strings.Join(c.Hooks.PostBackup, "; "))
	}
	plog.Info("Configuration loaded", logArgs...)

	for _, e := range c.EnabledEntries() {
		plog.Debug("Entry", "source", e.Source, "destination", e.Destination,
			"max_symlink_depth", e.SymlinkDepth(), "filters", len(e.Filters))
	}
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base
	merged.Entries = append([]EntryConfig(nil), base.Entries...)

	for name, value := range setFlags {
		switch name {
		case "base":
			merged.MainFolder = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "force":
			merged.Runtime.Force = value.(bool)
		case "mode":
			if command == flagparse.Backup || command == flagparse.Init {
				merged.Mode = value.(string)
			}
		case "hash":
			merged.HashAlgorithm = value.(string)
		case "today-style":
			merged.Today.Style = value.(string)
		case "hasher-workers":
			merged.Engine.HasherWorkers = value.(int)
		case "reader-workers":
			merged.Engine.ReaderWorkers = value.(int)
		case "writer-workers":
			merged.Engine.WriterWorkers = value.(int)
		case "retry-count":
			merged.Engine.RetryCount = value.(int)
		case "retry-wait":
			merged.Engine.RetryWaitSeconds = value.(int)
		case "progress-seconds":
			merged.Engine.ProgressSeconds = value.(int)
		case "buffer-budget-mb":
			merged.Engine.Buffers.BudgetMB = value.(int)
		case "pre-backup-hooks":
			merged.Hooks.PreBackup = value.([]string)
		case "post-backup-hooks":
			merged.Hooks.PostBackup = value.([]string)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
