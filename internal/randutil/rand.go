// Package randutil derives reproducible random streams from the run seed.
package randutil

import (
	"hash/fnv"
	rand "math/rand/v2"
)

const goldenRatio64 = 0x9e3779b97f4a7c15

// New returns a *rand.Rand seeded deterministically from seed.
func New(seed int64) *rand.Rand {
	u := uint64(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// Stream returns a generator for the sub-stream named by labels. Equal
// (seed, labels) pairs always yield equal sequences, and distinct labels yield
// independent-looking sequences, so the driver can re-run an epoch exactly.
func Stream(seed int64, labels ...string) *rand.Rand {
	return New(DeriveSeed(seed, labels...))
}

// DeriveSeed hashes labels into seed.
func DeriveSeed(seed int64, labels ...string) int64 {
	h := fnv.New64a()
	for _, l := range labels {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return int64(mix(uint64(seed) ^ h.Sum64()))
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
