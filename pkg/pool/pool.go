// Package pool provides reusable byte buffers and hash states for the
// backup pipeline. All pools are safe for concurrent use without external
// locking; they are backed by sync.Pool, so idle entries are released by the GC.
package pool

func isPowerOfTwo(n int64) bool {
	return n > 0 && (n&(n-1)) == 0
}
