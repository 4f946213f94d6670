package pipeline

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"github.com/paulschiretz/pgl-dedup/pkg/fileattr"
	"github.com/paulschiretz/pgl-dedup/pkg/fileops"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// WriteFunc is the Write stage of a job. It returns Finished, or Reader when
// the item has to be read and hashed first.
type WriteFunc func(it *Item) (Stage, error)

// Item is one file on its way through the pipeline. It is owned by exactly
// one stage at a time.
type Item struct {
	res   *Resources
	write WriteFunc

	// Source is the absolute path of the file to store.
	Source string
	// Target is the path that ends up linked to the store.
	Target string
	// NamePath is the name store entry in fast mode, empty otherwise.
	NamePath string
	// Header is the identity of Source, refreshed when Source is opened.
	Header store.Header

	// Digest and ContentPath are set once the whole file has been hashed.
	Digest      []byte
	ContentPath string

	stage        Stage
	writerVisits int
	failed       bool

	file     *os.File
	buf      *[]byte
	reserved int64
	whole    bool
	filled   int
	read     int64
	hash     hash.Hash

	disposeOnce sync.Once
}

// NewItem creates an item for the file described by info. first is Reader or
// Writer.
func NewItem(res *Resources, source, target string, info os.FileInfo, first Stage, write WriteFunc) *Item {
	return &Item{
		res:    res,
		write:  write,
		Source: source,
		Target: target,
		Header: headerOf(info),
		stage:  first,
	}
}

func headerOf(info os.FileInfo) store.Header {
	return store.Header{
		Length:     info.Size(),
		ModTime:    info.ModTime(),
		Attributes: fileattr.Of(info),
	}
}

// Stage returns the stage the item has to visit next.
func (it *Item) Stage() Stage {
	return it.stage
}

func (it *Item) Failed() bool {
	return it.failed
}

// WriterVisits counts how often the item entered the Write stage.
func (it *Item) WriterVisits() int {
	return it.writerVisits
}

// Resources returns the run resources of the item.
func (it *Item) Resources() *Resources {
	return it.res
}

// HasContent reports whether the complete file content is held in memory.
func (it *Item) HasContent() bool {
	return it.whole && it.buf != nil && it.read == it.Header.Length
}

// Content returns the buffered file content without the header. It is only
// valid while HasContent is true.
func (it *Item) Content() []byte {
	if !it.HasContent() {
		return nil
	}
	return (*it.buf)[store.HeaderSize:it.filled]
}

// Read fills the buffer with the next part of the file.
func (it *Item) Read() {
	if err := it.readNext(); err != nil {
		it.Fail(err)
		return
	}
	it.stage = Hasher
}

func (it *Item) readNext() error {
	if it.file == nil {
		if err := it.open(); err != nil {
			return err
		}
	} else if !it.whole {
		// The hasher consumed the previous window.
		it.filled = 0
	}

	buf := *it.buf
	want := min(int64(len(buf)-it.filled), it.Header.Length-it.read)
	n, err := io.ReadFull(it.file, buf[it.filled:it.filled+int(want)])
	it.filled += n
	it.read += int64(n)
	it.res.Metrics.AddBytesRead(int64(n))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("file shrank while reading, got %d of %d bytes", it.read, it.Header.Length)
		}
		return fmt.Errorf("failed to read: %w", err)
	}

	if it.read == it.Header.Length {
		it.closeFile()
	}
	return nil
}

func (it *Item) open() error {
	f, err := fileops.Value(it.res.Ops, "open "+it.Source, func() (*os.File, error) {
		return os.Open(it.Source)
	})
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat: %w", err)
	}
	it.file = f
	it.Header = headerOf(info)
	it.res.Metrics.AddFilesRead(1)

	// Start over if the item was read before, e.g. after the name store missed.
	it.read, it.filled = 0, 0
	it.resetHash()
	it.releaseBuffer()

	total := it.Header.Length + store.HeaderSize
	if total <= it.res.Buffers.MaxSize() {
		tier := it.res.Buffers.TierSize(total)
		if it.res.Memory.TryAcquire(tier) {
			it.reserved = tier
			it.whole = true
			it.buf = it.res.Buffers.Get(total)
		}
	}
	if it.buf == nil {
		it.whole = false
		it.buf = it.res.Buffers.Get(it.res.WindowSize)
	}

	it.Header.Put(*it.buf)
	it.filled = store.HeaderSize
	return nil
}

// Hash folds the bytes read so far into the digest. Once the whole file is
// hashed it resolves the content store path.
func (it *Item) Hash() {
	if it.hash == nil {
		it.hash = it.res.Hashes.Get()
	}
	it.hash.Write((*it.buf)[:it.filled])

	if it.read < it.Header.Length {
		it.stage = Reader
		return
	}

	it.Digest = it.hash.Sum(nil)
	it.ContentPath = it.res.Layout.ContentPath(it.Digest)
	it.resetHash()
	if !it.whole {
		it.releaseBuffer()
	}
	it.stage = Writer
}

// Write runs the job's write function.
func (it *Item) Write() {
	it.writerVisits++
	next, err := it.write(it)
	if err != nil {
		it.Fail(err)
		return
	}
	it.stage = next
	if next == Finished {
		it.Dispose()
	}
}

// Fail records err for the item, finishes it and releases its resources.
func (it *Item) Fail(err error) {
	it.failed = true
	it.res.Failures.Record(it.Source, err)
	it.res.Errors.Pushf("File %s: %v", it.Source, err)
	it.stage = Finished
	it.Dispose()
}

// Dispose releases the open file, the buffer and the hash state. It is safe
// to call more than once.
func (it *Item) Dispose() {
	it.disposeOnce.Do(func() {
		it.closeFile()
		it.releaseBuffer()
		it.resetHash()
	})
}

func (it *Item) closeFile() {
	if it.file != nil {
		it.file.Close()
		it.file = nil
	}
}

func (it *Item) releaseBuffer() {
	if it.buf != nil {
		it.res.Buffers.Put(it.buf)
		it.buf = nil
	}
	if it.reserved > 0 {
		it.res.Memory.Release(it.reserved)
		it.reserved = 0
	}
	it.whole = false
}

func (it *Item) resetHash() {
	if it.hash != nil {
		it.res.Hashes.Put(it.hash)
		it.hash = nil
	}
}
