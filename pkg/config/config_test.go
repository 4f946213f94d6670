package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-dedup/pkg/filter"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
)

func intPtr(v int) *int { return &v }

func TestConfig_Validate(t *testing.T) {
	newValidConfig := func(t *testing.T) Config {
		cfg := NewDefault()
		cfg.MainFolder = t.TempDir()
		cfg.Entries = []EntryConfig{
			{Source: t.TempDir(), Destination: "Documents"},
			{Source: t.TempDir(), Destination: "Photos"},
		}
		return cfg
	}

	t.Run("Valid Config", func(t *testing.T) {
		cfg := newValidConfig(t)
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected valid config to pass validation, but got error: %v", err)
		}
	})

	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Empty Main Folder", func(c *Config) { c.MainFolder = "" }},
		{"Invalid Mode", func(c *Config) { c.Mode = "snapshot" }},
		{"Invalid Hash", func(c *Config) { c.HashAlgorithm = "md5" }},
		{"Invalid Today Style", func(c *Config) { c.Today.Style = "weekly" }},
		{"Separator In PreText", func(c *Config) { c.Today.PreText = "a/b" }},
		{"Empty Destination", func(c *Config) { c.Entries[0].Destination = "" }},
		{"Nested Destination", func(c *Config) { c.Entries[0].Destination = "a/b" }},
		{"Duplicate Destination", func(c *Config) { c.Entries[1].Destination = "documents" }},
		{"Relative Source", func(c *Config) { c.Entries[0].Source = "relative/path" }},
		{"Negative Symlink Depth", func(c *Config) { c.Entries[0].MaxSymlinkDepth = intPtr(-1) }},
		{"Zero Hasher Workers", func(c *Config) { c.Engine.HasherWorkers = 0 }},
		{"Zero Writer Queue", func(c *Config) { c.Engine.WriterQueue = 0 }},
		{"Negative Retry Count", func(c *Config) { c.Engine.RetryCount = -1 }},
		{"Buffer Not Power Of Two", func(c *Config) { c.Engine.Buffers.MinKB = 100 }},
		{"Window Above Max", func(c *Config) { c.Engine.Buffers.WindowMB = 64 }},
		{"Negative Budget", func(c *Config) { c.Engine.Buffers.BudgetMB = -1 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newValidConfig(t)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error, but got nil")
			}
		})
	}

	t.Run("Disabled Entries Are Skipped", func(t *testing.T) {
		cfg := newValidConfig(t)
		disabled := false
		cfg.Entries = append(cfg.Entries, EntryConfig{Destination: "Documents", Enabled: &disabled})
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected disabled duplicate to be ignored, got: %v", err)
		}
		if got := len(cfg.EnabledEntries()); got != 2 {
			t.Errorf("expected 2 enabled entries, got %d", got)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("JSON From Directory", func(t *testing.T) {
		dir := t.TempDir()
		content := `{
  "schemaVersion": 2,
  "mainFolder": "/backups",
  "mode": "secure",
  "entries": [
    {"source": "/home/user", "destination": "Home", "filters": [{"action": "exclude", "pattern": "*.tmp"}]}
  ]
}`
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Mode != ModeSecure || cfg.MainFolder != "/backups" {
			t.Errorf("unexpected values: mode=%s main=%s", cfg.Mode, cfg.MainFolder)
		}
		// Defaults survive for fields the file omits.
		if cfg.Engine.HasherWorkers != 8 || cfg.HashAlgorithm != "sha256" {
			t.Errorf("expected defaults, got workers=%d hash=%s", cfg.Engine.HasherWorkers, cfg.HashAlgorithm)
		}
		if len(cfg.Entries) != 1 || len(cfg.Entries[0].Filters) != 1 || cfg.Entries[0].Filters[0].Action != filter.Exclude {
			t.Fatalf("unexpected entries: %+v", cfg.Entries)
		}
		if cfg.Entries[0].SymlinkDepth() != DefaultSymlinkDepth {
			t.Errorf("expected default depth %d, got %d", DefaultSymlinkDepth, cfg.Entries[0].SymlinkDepth())
		}
	})

	t.Run("YAML File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "job.yaml")
		content := `schemaVersion: 2
mainFolder: /backups
hashAlgorithm: blake3
today:
  style: date
  preText: "Backup "
entries:
  - source: /srv/data
    destination: Data
    maxSymlinkDepth: 2
    filters:
      - action: include
        pattern: "/keep/*"
      - action: exclude
        pattern: "*"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.HashAlgorithm != "blake3" || cfg.Today.Style != TodayDate || cfg.Today.PreText != "Backup " {
			t.Errorf("unexpected values: %+v", cfg)
		}
		if cfg.Entries[0].SymlinkDepth() != 2 || len(cfg.Entries[0].Filters) != 2 {
			t.Errorf("unexpected entry: %+v", cfg.Entries[0])
		}
	})

	t.Run("Schema 1 Migration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "old.json")
		content := `{"mainFolder": "/b", "entries": [{"source": "/a", "destination": "A"}, {"source": "/c", "destination": "C", "maxSymlinkDepth": 9}]}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.SchemaVersion != CurrentSchemaVersion {
			t.Errorf("expected schema %d, got %d", CurrentSchemaVersion, cfg.SchemaVersion)
		}
		if cfg.Entries[0].SymlinkDepth() != LegacySymlinkDepth {
			t.Errorf("expected legacy depth %d, got %d", LegacySymlinkDepth, cfg.Entries[0].SymlinkDepth())
		}
		if cfg.Entries[1].SymlinkDepth() != 9 {
			t.Errorf("explicit depth changed to %d", cfg.Entries[1].SymlinkDepth())
		}
	})

	t.Run("Future Schema", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "new.json")
		if err := os.WriteFile(path, []byte(`{"schemaVersion": 99}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "newer") {
			t.Errorf("expected schema error, got %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte(`{"mainFolder": `), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestGenerateRoundTrip(t *testing.T) {
	for _, name := range []string{"job.json", "job.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := NewDefault()
			cfg.MainFolder = "/backups"
			cfg.Entries = []EntryConfig{{
				Source:          "/home",
				Destination:     "Home",
				MaxSymlinkDepth: intPtr(3),
				Filters:         []filter.Rule{{Action: filter.Exclude, Pattern: "*.iso"}},
			}}
			cfg.Runtime.DryRun = true
			if err := Generate(path, cfg); err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Runtime.DryRun {
				t.Error("runtime fields must not be persisted")
			}
			if loaded.Entries[0].SymlinkDepth() != 3 || loaded.Entries[0].Filters[0].Pattern != "*.iso" {
				t.Errorf("entry not preserved: %+v", loaded.Entries[0])
			}
		})
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	base.MainFolder = "/from/file"
	base.Entries = []EntryConfig{{Source: "/a", Destination: "A"}}

	flags := map[string]any{
		"base":           "/from/flag",
		"mode":           "secure",
		"hash":           "blake3",
		"hasher-workers": 3,
		"dry-run":        true,
		"retry-count":    1,
	}

	t.Run("Backup", func(t *testing.T) {
		merged := MergeConfigWithFlags(flagparse.Backup, base, flags)
		if merged.MainFolder != "/from/flag" || merged.Mode != ModeSecure || merged.HashAlgorithm != "blake3" {
			t.Errorf("flags not applied: %+v", merged)
		}
		if merged.Engine.HasherWorkers != 3 || merged.Engine.RetryCount != 1 || !merged.Runtime.DryRun {
			t.Errorf("engine flags not applied: %+v", merged.Engine)
		}
		if base.MainFolder != "/from/file" {
			t.Error("base config was modified")
		}
	})

	t.Run("Mode Ignored For Prune", func(t *testing.T) {
		merged := MergeConfigWithFlags(flagparse.Prune, base, flags)
		if merged.Mode != ModeFast {
			t.Errorf("expected mode to stay fast, got %s", merged.Mode)
		}
	})
}
