package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckMainFolderAccessible(t *testing.T) {
	t.Run("Happy Path - Folder Exists", func(t *testing.T) {
		if err := CheckMainFolderAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Error - Folder Does Not Exist", func(t *testing.T) {
		err := CheckMainFolderAccessible(filepath.Join(t.TempDir(), "missing"))
		if err == nil || !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected 'does not exist' error, but got: %v", err)
		}
	})

	t.Run("Error - Folder Is a File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "main.txt")
		if err := os.WriteFile(file, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckMainFolderAccessible(file)
		if err == nil || !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected 'not a directory' error, but got: %v", err)
		}
	})
}

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("Happy Path - Source is a directory", func(t *testing.T) {
		if err := CheckSourceAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
	})

	t.Run("Error - Source does not exist", func(t *testing.T) {
		err := CheckSourceAccessible(filepath.Join(t.TempDir(), "nonexistent"))
		if err == nil || !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected 'does not exist' error, but got: %v", err)
		}
	})

	t.Run("Error - Source is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "source.txt")
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		if err := CheckSourceAccessible(file); err == nil {
			t.Error("expected an error when source is a file, but got nil")
		}
	})
}

func TestCheckMainFolderWritable(t *testing.T) {
	dir := t.TempDir()
	if err := CheckMainFolderWritable(dir); err != nil {
		t.Fatalf("expected writable dir, got: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected probe file to be removed, found %d entries", len(entries))
	}
}

func TestCheckHardLinkSupport(t *testing.T) {
	dir := t.TempDir()
	if err := CheckHardLinkSupport(dir); err != nil {
		t.Fatalf("expected hard link support in temp dir, got: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected probe files to be removed, found %d entries", len(entries))
	}
}

func TestVolumeKey(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	a, err := VolumeKey(dir)
	if err != nil {
		t.Fatalf("VolumeKey failed: %v", err)
	}
	b, err := VolumeKey(sub)
	if err != nil {
		t.Fatalf("VolumeKey failed: %v", err)
	}
	if a != b {
		t.Errorf("expected the same key for a directory and its child, got %q and %q", a, b)
	}
}

func TestValidator_Run(t *testing.T) {
	v := NewValidator()
	main := t.TempDir()
	plan := &Plan{MainFolderAccessible: true, SourcesAccessible: true, MainFolderWritable: true, HardLinks: true}

	if err := v.Run(context.Background(), main, []string{t.TempDir(), filepath.Join(main, "missing")}, plan); err != nil {
		t.Errorf("expected missing sources to be tolerated, got: %v", err)
	}
	if err := v.Run(context.Background(), filepath.Join(main, "missing"), nil, plan); err == nil {
		t.Error("expected error for missing main folder")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.Run(ctx, main, []string{t.TempDir()}, plan); err == nil {
		t.Error("expected context error")
	}
}
