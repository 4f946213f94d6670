package pool

import (
	"hash"
	"sync"
)

// HashPool lends reset hash states. Every state handed out by Get is ready
// for a fresh digest; Put resets it before it becomes visible to other callers.
type HashPool struct {
	size int
	pool sync.Pool
}

// NewHashPool creates a pool around a hash constructor such as sha256.New.
func NewHashPool(newHash func() hash.Hash) *HashPool {
	hp := &HashPool{size: newHash().Size()}
	hp.pool.New = func() any { return newHash() }
	return hp
}

// Size returns the digest size in bytes of the pooled hash.
func (hp *HashPool) Size() int {
	return hp.size
}

func (hp *HashPool) Get() hash.Hash {
	return hp.pool.Get().(hash.Hash)
}

func (hp *HashPool) Put(h hash.Hash) {
	if h == nil {
		return
	}
	h.Reset()
	hp.pool.Put(h)
}
