package compiled

import (
	"hash/fnv"
	"math"
)

// bloomFilter is a hand-rolled Bloom filter over the exact network host
// set, used to front the CIDR/exact lookup with an O(1) negative check.
// No bloom-filter dependency is imported anywhere in the reference
// corpus this package was grounded on, so the structure is built
// directly on hash/fnv double-hashing rather than pulling in an
// unrelated library.
type bloomFilter struct {
	bits []uint64
	m    uint64
	k    uint64
}

// newBloomFilter sizes a filter for n expected elements at the given
// target false-positive rate.
func newBloomFilter(n int, fpRate float64) *bloomFilter {
	if n < 1 {
		n = 1
	}
	m := optimalBits(n, fpRate)
	k := optimalHashes(m, n)
	return &bloomFilter{
		bits: make([]uint64, (m+63)/64),
		m:    uint64(m),
		k:    uint64(k),
	}
}

func optimalBits(n int, p float64) int {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return int(math.Ceil(m))
}

func optimalHashes(m, n int) int {
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}

func (f *bloomFilter) hashes(s string) (uint64, uint64) {
	h1 := fnv.New64()
	h1.Write([]byte(s))
	sum1 := h1.Sum64()

	h2 := fnv.New64a()
	h2.Write([]byte(s))
	sum2 := h2.Sum64()

	return sum1, sum2
}

// Add inserts s into the filter.
func (f *bloomFilter) Add(s string) {
	h1, h2 := f.hashes(s)
	for i := uint64(0); i < f.k; i++ {
		bit := (h1 + i*h2) % f.m
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

// Test reports whether s may be in the filter. A false result is
// definitive; a true result may be a false positive.
func (f *bloomFilter) Test(s string) bool {
	h1, h2 := f.hashes(s)
	for i := uint64(0); i < f.k; i++ {
		bit := (h1 + i*h2) % f.m
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}
