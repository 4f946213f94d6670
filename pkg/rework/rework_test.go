package rework

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

var mod = time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func testConfig(main string) config.Config {
	cfg := config.NewDefault()
	cfg.MainFolder = main
	cfg.Engine.RetryCount = 1
	cfg.Engine.RetryWaitSeconds = 0
	cfg.Engine.HasherWorkers = 2
	cfg.Engine.Buffers = config.BufferConfig{MinKB: 1, MaxMB: 1, WindowMB: 1, BudgetMB: 8}
	return cfg
}

func run(t *testing.T, cfg config.Config, opts Options) (*Reworker, *metrics.PipelineMetrics) {
	t.Helper()
	m := &metrics.PipelineMetrics{}
	opts.Metrics = m
	opts.PollInterval = 5 * time.Millisecond
	r, err := New(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	return r, m
}

func isSameFile(t *testing.T, a, b string) bool {
	t.Helper()
	same, err := sameFile(a, b)
	require.NoError(t, err)
	return same
}

func readString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func linkCount(t *testing.T, path string) uint64 {
	t.Helper()
	n, err := hardlink.LinkCount(path)
	require.NoError(t, err)
	return n
}

// storeFiles lists the files of the content store.
func storeFiles(t *testing.T, main string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(filepath.Join(main, store.ContentFolder), func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return fs.SkipAll
		}
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestRework_LinksDuplicatesToStore(t *testing.T) {
	main := t.TempDir()
	a1 := filepath.Join(main, "old1", "a.txt")
	a2 := filepath.Join(main, "old2", "nested", "a.txt")
	b1 := filepath.Join(main, "old1", "b.txt")
	writeFile(t, a1, "duplicate")
	writeFile(t, a2, "duplicate")
	writeFile(t, b1, "unique")

	r, m := run(t, testConfig(main), Options{})

	assert.ElementsMatch(t, []string{filepath.Join(main, "old1"), filepath.Join(main, "old2")}, r.Folders())
	assert.True(t, isSameFile(t, a1, a2))
	assert.Equal(t, uint64(3), linkCount(t, a1))
	assert.Equal(t, uint64(2), linkCount(t, b1))
	assert.Equal(t, "duplicate", readString(t, a2))
	assert.Len(t, storeFiles(t, main), 2)

	assert.Equal(t, int64(2), m.StoreFilesCreated.Load())
	assert.Equal(t, int64(1), m.FilesLinked.Load())
	assert.Equal(t, int64(0), m.BytesWritten.Load(), "adopting a file never copies it")
	assert.Empty(t, r.Errors())

	t.Run("Second Run Changes Nothing", func(t *testing.T) {
		r, m := run(t, testConfig(main), Options{})
		assert.Equal(t, int64(0), m.StoreFilesCreated.Load())
		assert.Equal(t, int64(0), m.FilesLinked.Load())
		assert.Equal(t, int64(3), r.Diagnostics().Processed)
		assert.Equal(t, int64(0), r.Diagnostics().Failed)
	})
}

func TestRework_SelectedFolders(t *testing.T) {
	main := t.TempDir()
	a1 := filepath.Join(main, "old1", "a.txt")
	a2 := filepath.Join(main, "old2", "a.txt")
	writeFile(t, a1, "same")
	writeFile(t, a2, "same")

	run(t, testConfig(main), Options{Folders: []string{filepath.Join(main, "old1")}})
	assert.False(t, isSameFile(t, a1, a2))
	require.Len(t, storeFiles(t, main), 1)

	// The store entry exists now, the second folder is linked to it.
	_, m := run(t, testConfig(main), Options{Folders: []string{filepath.Join(main, "old2")}})
	assert.True(t, isSameFile(t, a1, a2))
	assert.Equal(t, int64(1), m.FilesLinked.Load())
}

func TestRework_FolderValidation(t *testing.T) {
	main := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(main, store.ContentFolder, "AB"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(main, "old"), 0755))

	_, err := New(testConfig(main), Options{Folders: []string{t.TempDir()}})
	assert.ErrorContains(t, err, "not inside the main folder")

	_, err = New(testConfig(main), Options{Folders: []string{filepath.Join(main, store.ContentFolder, "AB")}})
	assert.ErrorContains(t, err, "belongs to a store")

	_, err = New(testConfig(main), Options{Folders: []string{main}})
	assert.Error(t, err)

	r, err := New(testConfig(main), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(main, "old")}, r.Folders())
}

// limitLinker reports the link limit once for links whose new name passes match.
type limitLinker struct {
	hardlink.OS
	match func(oldname, newname string) bool
	hits  atomic.Int32
}

func (l *limitLinker) Link(oldname, newname string) error {
	if l.match(oldname, newname) && l.hits.Add(1) == 1 {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: hardlink.ErrTooManyLinks}
	}
	return l.OS.Link(oldname, newname)
}

func TestRework_RenewsSaturatedStoreFile(t *testing.T) {
	main := t.TempDir()
	a1 := filepath.Join(main, "old1", "a.txt")
	a2 := filepath.Join(main, "old2", "a.txt")
	writeFile(t, a1, "duplicate")
	writeFile(t, a2, "duplicate")

	linker := &limitLinker{match: func(_, newname string) bool { return strings.HasSuffix(newname, tempSuffix) }}
	r, m := run(t, testConfig(main), Options{Linker: linker})

	assert.Empty(t, r.Failures())
	assert.Equal(t, int64(1), m.LinkLimitRecoveries.Load())
	assert.Equal(t, "duplicate", readString(t, a1))
	assert.Equal(t, "duplicate", readString(t, a2))

	// The adopted file kept the saturated inode, the other one is linked to
	// the fresh store copy.
	files := storeFiles(t, main)
	require.Len(t, files, 1)
	assert.False(t, isSameFile(t, a1, a2))
	assert.True(t, isSameFile(t, a1, files[0]) || isSameFile(t, a2, files[0]))
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mod))
}

func TestRework_CopiesWhenOriginalIsSaturated(t *testing.T) {
	main := t.TempDir()
	a := filepath.Join(main, "old", "a.txt")
	writeFile(t, a, "content")

	contentDir := filepath.Join(main, store.ContentFolder)
	linker := &limitLinker{match: func(_, newname string) bool { return strings.HasPrefix(newname, contentDir) }}
	_, m := run(t, testConfig(main), Options{Linker: linker})

	files := storeFiles(t, main)
	require.Len(t, files, 1)
	assert.False(t, isSameFile(t, a, files[0]))
	assert.Equal(t, "content", readString(t, files[0]))
	assert.Equal(t, int64(1), m.LinkLimitRecoveries.Load())
	assert.Equal(t, int64(len("content")), m.BytesWritten.Load())
}

func TestRework_SkipsSymlinksAndInternalFiles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on Windows")
	}
	main := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.txt")
	writeFile(t, outside, "outside")
	writeFile(t, filepath.Join(main, "old", ".pgl-dedup.meta.json"), "{}")
	writeFile(t, filepath.Join(main, "old", "real.txt"), "real")
	require.NoError(t, os.Symlink(outside, filepath.Join(main, "old", "link.txt")))

	r, _ := run(t, testConfig(main), Options{})
	assert.Equal(t, int64(1), r.Diagnostics().Created)
	assert.Equal(t, uint64(1), linkCount(t, outside))
}

func TestRework_DryRun(t *testing.T) {
	main := t.TempDir()
	writeFile(t, filepath.Join(main, "old", "a.txt"), "a")

	cfg := testConfig(main)
	cfg.Runtime.DryRun = true
	r, _ := run(t, cfg, Options{})
	assert.Equal(t, int64(0), r.Diagnostics().Created)
	assert.NoDirExists(t, filepath.Join(main, store.ContentFolder))
}
