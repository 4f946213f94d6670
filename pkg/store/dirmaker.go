package store

import (
	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/pgl-dedup/pkg/fileops"
	"github.com/paulschiretz/pgl-dedup/pkg/sharded"
)

// DirMaker creates directories at most once per run. Concurrent requests
// for the same directory share one MkdirAll.
type DirMaker struct {
	ops   *fileops.Ops
	known *sharded.Set
	group singleflight.Group
}

func NewDirMaker(ops *fileops.Ops) *DirMaker {
	return &DirMaker{ops: ops, known: sharded.NewSet(64)}
}

// Ensure creates dir and its parents unless this DirMaker already did.
func (d *DirMaker) Ensure(dir string) error {
	if d.known.Has(dir) {
		return nil
	}
	_, err, _ := d.group.Do(dir, func() (any, error) {
		if d.known.Has(dir) {
			return nil, nil
		}
		if err := d.ops.MkdirAll(dir); err != nil {
			return nil, err
		}
		d.known.Store(dir)
		return nil, nil
	})
	return err
}

// Forget drops dir from the cache, e.g. after it was removed.
func (d *DirMaker) Forget(dir string) {
	d.known.Delete(dir)
}
