//go:build !windows

package fileattr

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOfAndApply(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	for _, p := range []string{src, dst} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}
	if err := os.Chmod(src, 0640); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	a := Of(info)
	if a != 0640 {
		t.Fatalf("expected attributes 0640, got %o", a)
	}

	if err := Apply(dst, a); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	info, err = os.Stat(dst)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("expected 0640 on destination, got %o", info.Mode().Perm())
	}
}

func TestIsReadOnly(t *testing.T) {
	if !Attributes(0444).IsReadOnly() {
		t.Error("0444 should be read-only")
	}
	if Attributes(0644).IsReadOnly() {
		t.Error("0644 should not be read-only")
	}
}
