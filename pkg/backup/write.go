package backup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-dedup/pkg/fileattr"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/pipeline"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// write is the Write stage of a backup item.
//
// In fast mode an item enters here before it was read. If the name store
// holds a file with the same length, time and attributes, the target is
// linked to it and the item is done. Otherwise the item goes back to be
// read and hashed, and returns with its content path set.
func (w *Worker) write(it *pipeline.Item) (pipeline.Stage, error) {
	if it.NamePath != "" && it.Digest == nil {
		if w.linkFromNameStore(it) {
			return pipeline.Finished, nil
		}
		return pipeline.Reader, nil
	}

	if err := w.linkToContentStore(it); err != nil {
		return pipeline.Finished, err
	}
	if it.NamePath != "" {
		w.updateNameStore(it)
	}
	return pipeline.Finished, nil
}

// linkFromNameStore reports whether the target could be linked to the name
// store entry of the item. A saturated entry is removed so that the next
// store write replaces it with a fresh one.
func (w *Worker) linkFromNameStore(it *pipeline.Item) bool {
	res := it.Resources()
	info, err := os.Lstat(it.NamePath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	stored := store.Header{Length: info.Size(), ModTime: info.ModTime(), Attributes: fileattr.Of(info)}
	if !stored.SameIdentity(it.Header) {
		return false
	}

	err = res.Ops.Execute("link "+it.Target, func() error {
		return res.Linker.Link(it.NamePath, it.Target)
	})
	switch {
	case err == nil:
		res.Metrics.AddNameHits(1)
		res.Metrics.AddFilesLinked(1)
		return true
	case hardlink.IsTooManyLinks(err):
		res.Metrics.AddLinkLimitRecoveries(1)
		if rmErr := res.Ops.Remove(it.NamePath); rmErr != nil {
			plog.Warn("Failed to remove saturated name store entry", "path", it.NamePath, "error", rmErr)
		}
	default:
		plog.Debug("Name store link failed, reading file", "path", it.Source, "error", err)
	}
	return false
}

// linkToContentStore makes sure the content store holds the item and links
// the target to it. When the store file carries the maximum number of links
// it is replaced by a fresh copy, at most RetryCount times.
func (w *Worker) linkToContentStore(it *pipeline.Item) error {
	res := it.Resources()
	for attempt := 0; ; attempt++ {
		if err := w.ensureContent(it); err != nil {
			return err
		}
		err := res.Ops.Execute("link "+it.Target, func() error {
			return res.Linker.Link(it.ContentPath, it.Target)
		})
		if err == nil {
			res.Metrics.AddFilesLinked(1)
			return nil
		}
		if !hardlink.IsTooManyLinks(err) || attempt >= res.Ops.RetryCount() {
			return err
		}
		plog.Debug("Store file reached its link limit, storing a fresh copy", "path", it.ContentPath)
		res.Metrics.AddLinkLimitRecoveries(1)
		if err := res.Ops.Remove(it.ContentPath); err != nil {
			return err
		}
	}
}

// ensureContent creates the content store file of the item unless it exists.
// Buffered files are written from memory, windowed files copied from the
// source. The stored copy gets the source's time and attributes.
func (w *Worker) ensureContent(it *pipeline.Item) error {
	res := it.Resources()
	exists, err := res.Ops.FileExists(it.ContentPath)
	if err != nil || exists {
		return err
	}
	if err := res.Dirs.Ensure(filepath.Dir(it.ContentPath)); err != nil {
		return err
	}

	if it.HasContent() {
		err = res.Ops.WriteNew(it.ContentPath, it.Content())
		if err == nil {
			err = res.Ops.Chtimes(it.ContentPath, it.Header.ModTime)
		}
		if err == nil {
			err = res.Ops.SetAttributes(it.ContentPath, it.Header.Attributes)
		}
		if err != nil {
			// A store file without the right time would be taken for other content.
			_ = res.Ops.Remove(it.ContentPath)
			return err
		}
	} else {
		err = res.Ops.Copy(it.Source, it.ContentPath, it.Header.ModTime, it.Header.Attributes)
		if errors.Is(err, fs.ErrExist) {
			// Another writer stored the same content.
			return nil
		}
		if err != nil {
			return err
		}
	}
	res.Metrics.AddStoreFilesCreated(1)
	res.Metrics.AddBytesWritten(it.Header.Length)
	return nil
}

// updateNameStore points the name store entry of the item at its content
// store file. Failures only cost the shortcut on the next run.
func (w *Worker) updateNameStore(it *pipeline.Item) {
	res := it.Resources()
	if err := res.Dirs.Ensure(filepath.Dir(it.NamePath)); err != nil {
		plog.Debug("Skipping name store entry", "path", it.Source, "error", err)
		return
	}
	if err := res.Ops.Remove(it.NamePath); err != nil {
		plog.Debug("Skipping name store entry", "path", it.Source, "error", err)
		return
	}
	err := res.Ops.Execute("link "+it.NamePath, func() error {
		return res.Linker.Link(it.ContentPath, it.NamePath)
	})
	if err != nil && !errors.Is(err, fs.ErrExist) {
		plog.Debug("Skipping name store entry", "path", it.Source, "error", err)
	}
}
