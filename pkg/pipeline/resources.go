package pipeline

import (
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/fileops"
	"github.com/paulschiretz/pgl-dedup/pkg/hardlink"
	"github.com/paulschiretz/pgl-dedup/pkg/limiter"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/pool"
	"github.com/paulschiretz/pgl-dedup/pkg/store"
)

// Options configures the resources shared by all items of a run.
type Options struct {
	MainFolder    string
	HashAlgorithm string

	RetryCount int
	RetryWait  time.Duration

	// Whole files up to MaxBuffer bytes (header included) are held in one
	// buffer while MemoryBudget allows it. Larger files are streamed
	// through WindowSize buffers and copied from the source when stored.
	MinBuffer    int64
	MaxBuffer    int64
	WindowSize   int64
	MemoryBudget int64

	// Linker defaults to hardlink.OS.
	Linker hardlink.Linker
	// Metrics defaults to metrics.NoopMetrics.
	Metrics metrics.Metrics
}

// Resources are shared by every item of a run.
type Resources struct {
	Ops        *fileops.Ops
	Buffers    *pool.BucketedBufferPool
	Hashes     *pool.HashPool
	Memory     *limiter.Memory
	Layout     store.Layout
	Dirs       *store.DirMaker
	Linker     hardlink.Linker
	Metrics    metrics.Metrics
	Errors     *ErrorQueue
	Failures   *Failures
	Tally      *Tally
	WindowSize int64
}

// NewResources validates opts and builds the pools of a run.
func NewResources(opts Options) (*Resources, error) {
	newHash, err := store.HashFunc(opts.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	if opts.MinBuffer <= 0 || opts.MinBuffer&(opts.MinBuffer-1) != 0 {
		return nil, fmt.Errorf("minimum buffer size %d must be a power of two", opts.MinBuffer)
	}
	if opts.MaxBuffer <= opts.MinBuffer || opts.MaxBuffer&(opts.MaxBuffer-1) != 0 {
		return nil, fmt.Errorf("maximum buffer size %d must be a power of two above the minimum", opts.MaxBuffer)
	}
	if opts.WindowSize <= store.HeaderSize || opts.WindowSize > opts.MaxBuffer {
		return nil, fmt.Errorf("window size %d must be above %d and at most the maximum buffer size", opts.WindowSize, store.HeaderSize)
	}

	ops := fileops.New(opts.RetryCount, opts.RetryWait)
	linker := opts.Linker
	if linker == nil {
		linker = hardlink.OS{}
	}
	m := opts.Metrics
	if m == nil {
		m = &metrics.NoopMetrics{}
	}

	return &Resources{
		Ops:        ops,
		Buffers:    pool.NewBucketedBufferPool(opts.MinBuffer, opts.MaxBuffer),
		Hashes:     pool.NewHashPool(newHash),
		Memory:     limiter.NewMemory(opts.MemoryBudget),
		Layout:     store.NewLayout(opts.MainFolder),
		Dirs:       store.NewDirMaker(ops),
		Linker:     linker,
		Metrics:    m,
		Errors:     &ErrorQueue{},
		Failures:   NewFailures(),
		Tally:      &Tally{},
		WindowSize: opts.WindowSize,
	}, nil
}
