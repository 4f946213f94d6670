package flagparse

import (
	"slices"
	"testing"
)

func TestParseExcludeList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Simple List", "*.tmp,*.bak", []string{"*.tmp", "*.bak"}},
		{"List with Spaces", " a , b, c ", []string{"a", "b", "c"}},
		{"Empty String", "", nil},
		{"Quoted Item with Comma", "'a,b',c", []string{"a,b", "c"}},
		{"Unmatched Quote", "'a,b", []string{"a,b"}},
		{"Nested Quotes", "\"it's a test\",d", []string{"it's a test", "d"}},
		{"Windows Path with Backslashes", `C:\Users\*,D:\Data`, []string{`C:\Users\*`, `D:\Data`}},
		{"Slash Paths", "/cache/,/node_modules/", []string{"/cache/", "/node_modules/"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseExcludeList(tc.input)
			if len(tc.expected) == 0 && len(result) == 0 {
				return
			}
			if !slices.Equal(result, tc.expected) {
				t.Errorf("expected %v, but got %v", tc.expected, result)
			}
		})
	}
}

func TestParseCmdList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Simple List", "cmd1,cmd2", []string{"cmd1", "cmd2"}},
		{"Quoted Item with Comma", "'echo a,b',c", []string{"'echo a,b'", "c"}},
		{"Mixed Single and Double Quotes", "'a b',\"c,d\",e", []string{"'a b'", "\"c,d\"", "e"}},
		{"Escaped Single Quote Inside Single Quotes", "'hello\\'world',next", []string{"'hello\\'world'", "next"}},
		{"Escaped Comma Outside Quotes", "a\\,b,c", []string{"a\\,b", "c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseCmdList(tc.input)
			if !slices.Equal(result, tc.expected) {
				t.Errorf("expected %v, but got %v", tc.expected, result)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	for _, name := range []string{"backup", "rework", "prune", "init", "version"} {
		c, err := ParseCommand(name)
		if err != nil {
			t.Fatalf("ParseCommand(%q) failed: %v", name, err)
		}
		if c.String() != name {
			t.Errorf("expected %q, got %q", name, c.String())
		}
	}
	for _, name := range []string{"none", "restore", ""} {
		if _, err := ParseCommand(name); err == nil {
			t.Errorf("expected error for %q", name)
		}
	}
}

func TestParse(t *testing.T) {
	t.Run("Backup Only Set Flags", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"backup", "-base", "/backups", "-mode", "secure", "-hasher-workers", "4"})
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cmd != Backup {
			t.Fatalf("expected backup, got %v", cmd)
		}
		if flags["base"] != "/backups" || flags["mode"] != "secure" || flags["hasher-workers"] != 4 {
			t.Errorf("unexpected flags: %v", flags)
		}
		if _, ok := flags["dry-run"]; ok {
			t.Error("unset flag should not be in the map")
		}
	})

	t.Run("Invalid Mode", func(t *testing.T) {
		if _, _, err := Parse([]string{"backup", "-mode", "snapshot"}); err == nil {
			t.Error("expected error for invalid mode")
		}
	})

	t.Run("Hooks Are Parsed", func(t *testing.T) {
		_, flags, err := Parse([]string{"backup", "-pre-backup-hooks", "'echo a,b',sync"})
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !slices.Equal(flags["pre-backup-hooks"].([]string), []string{"'echo a,b'", "sync"}) {
			t.Errorf("unexpected hooks: %v", flags["pre-backup-hooks"])
		}
	})

	t.Run("Prune Rejects Engine Flags", func(t *testing.T) {
		if _, _, err := Parse([]string{"prune", "-hasher-workers", "2"}); err == nil {
			t.Error("expected error for unregistered flag")
		}
	})

	t.Run("Rework Folders", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"rework", "-base", "/b", "/b/old1", "/b/old2"})
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cmd != Rework {
			t.Fatalf("expected rework, got %v", cmd)
		}
		if !slices.Equal(flags["folders"].([]string), []string{"/b/old1", "/b/old2"}) {
			t.Errorf("unexpected folders: %v", flags["folders"])
		}
	})

	t.Run("Stray Arguments", func(t *testing.T) {
		if _, _, err := Parse([]string{"backup", "extra"}); err == nil {
			t.Error("expected error for positional argument")
		}
	})

	t.Run("Init Exclude", func(t *testing.T) {
		_, flags, err := Parse([]string{"init", "-source", "/home/u", "-exclude", "*.tmp,/cache/"})
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !slices.Equal(flags["exclude"].([]string), []string{"*.tmp", "/cache/"}) {
			t.Errorf("unexpected exclude: %v", flags["exclude"])
		}
	})

	t.Run("Version", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"version"})
		if err != nil || cmd != Version || flags != nil {
			t.Errorf("unexpected result: %v %v %v", cmd, flags, err)
		}
	})
}
