// Package sharded provides string keyed maps and sets split over
// independently locked shards, for hot paths shared by many workers.
package sharded

import "hash/fnv"

// shardIndex hashes key with FNV-1a. numShards must be a power of two.
func shardIndex(key string, numShards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() & uint32(numShards-1))
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
