package pool

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// BucketedBufferPool hands out byte slices from power-of-two tiers between a
// minimum and a maximum size. A buffer must be returned to the tier matching
// its capacity; Put drops anything else and counts it as rejected.
type BucketedBufferPool struct {
	minBucketExp int
	maxBucketExp int
	maxPoolSize  int64
	pools        []sync.Pool

	rejected atomic.Int64
}

// NewBucketedBufferPool creates a pool based on raw size boundaries.
// Both minSize and maxSize MUST be powers of two (e.g., 65536, 33554432).
func NewBucketedBufferPool(minSize, maxSize int64) *BucketedBufferPool {
	if !isPowerOfTwo(minSize) {
		panic(fmt.Sprintf("minSize %d must be a power of two", minSize))
	}
	if !isPowerOfTwo(maxSize) {
		panic(fmt.Sprintf("maxSize %d must be a power of two", maxSize))
	}
	if maxSize <= minSize {
		panic("maxSize must be greater than minSize")
	}

	minExp := bits.TrailingZeros64(uint64(minSize))
	maxExp := bits.TrailingZeros64(uint64(maxSize))

	bp := &BucketedBufferPool{
		minBucketExp: minExp,
		maxBucketExp: maxExp,
		maxPoolSize:  int64(1) << maxExp,
		pools:        make([]sync.Pool, maxExp+1),
	}

	for i := minExp; i <= maxExp; i++ {
		size := int64(1) << i
		bp.pools[i].New = func() any {
			b := make([]byte, int(size))
			return &b
		}
	}
	return bp
}

// MaxSize returns the capacity of the largest tier.
func (bp *BucketedBufferPool) MaxSize() int64 {
	return bp.maxPoolSize
}

// TierSize returns the capacity of the buffer Get would hand out for size,
// or size itself when it is larger than the biggest tier.
func (bp *BucketedBufferPool) TierSize(size int64) int64 {
	if size <= 0 {
		return 0
	}
	if size > bp.maxPoolSize {
		return size
	}
	return int64(1) << bp.tierIndex(size)
}

func (bp *BucketedBufferPool) tierIndex(size int64) int {
	// bits.Len64(size-1) is the exponent of the smallest power of two >= size.
	idx := bits.Len64(uint64(size - 1))
	if idx < bp.minBucketExp {
		idx = bp.minBucketExp
	}
	return idx
}

// Get retrieves a pointer to a byte slice of length size. The capacity is the
// tier size, so callers may reslice up to cap.
func (bp *BucketedBufferPool) Get(size int64) *[]byte {
	if size <= 0 {
		b := make([]byte, 0)
		return &b
	}

	// Oversized requests are served but never pooled.
	if size > bp.maxPoolSize {
		b := make([]byte, int(size))
		return &b
	}

	bufPtr := bp.pools[bp.tierIndex(size)].Get().(*[]byte)
	*bufPtr = (*bufPtr)[:int(size)]
	return bufPtr
}

// Put returns the buffer to the tier matching its capacity. Buffers whose
// capacity is not one of the tiers are dropped and counted in Rejected.
func (bp *BucketedBufferPool) Put(bufPtr *[]byte) {
	if bufPtr == nil || cap(*bufPtr) == 0 {
		return
	}

	capacity := int64(cap(*bufPtr))
	if capacity < (int64(1)<<bp.minBucketExp) || capacity > bp.maxPoolSize || !isPowerOfTwo(capacity) {
		bp.rejected.Add(1)
		return
	}

	*bufPtr = (*bufPtr)[:capacity]
	bp.pools[bits.TrailingZeros64(uint64(capacity))].Put(bufPtr)
}

// Rejected reports how many buffers were handed back with a foreign capacity.
func (bp *BucketedBufferPool) Rejected() int64 {
	return bp.rejected.Load()
}

// FixedBufferPool pools buffers of exactly one size, e.g. copy buffers.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
