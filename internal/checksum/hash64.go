package checksum

import "github.com/zeebo/xxh3"

// Hash64 computes a 64-bit hash of data for purposes that never touch the
// on-disk format: it picks the shard of the sharded block cache. The Bloom
// filter does not use it. Because it is never persisted,
// swapping the algorithm carries no compatibility risk, unlike Value/Mask
// above.
func Hash64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Hash64Seed computes a seeded 64-bit hash; different seeds give
// independent hashes of the same data.
func Hash64Seed(data []byte, seed uint64) uint64 {
	return xxh3.HashSeed(data, seed)
}
