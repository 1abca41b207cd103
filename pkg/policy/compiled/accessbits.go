package compiled

import "github.com/mcpkit/mcpkit/pkg/policy"

// AccessBits is a bitset over the storage access kinds, mirroring the
// teacher's capability-bitset idiom (named constants combined with
// bitwise OR rather than a slice of strings).
type AccessBits uint8

const (
	AccessRead AccessBits = 1 << iota
	AccessWrite
	AccessCreate
	AccessDelete
	// AccessExecute is mapped onto AccessRead under WASI, which has no
	// distinct execute permission bit (spec.md §9 open question); write
	// always implies the mutate bit per the same invariant.
	AccessExecute
)

func accessBitsFromSet(set map[policy.Access]bool) AccessBits {
	var bits AccessBits
	if set[policy.AccessRead] {
		bits |= AccessRead
	}
	if set[policy.AccessWrite] {
		bits |= AccessWrite | AccessCreate | AccessDelete
	}
	if set[policy.AccessCreate] {
		bits |= AccessCreate
	}
	if set[policy.AccessDelete] {
		bits |= AccessDelete
	}
	if set[policy.AccessExecute] {
		bits |= AccessExecute | AccessRead
	}
	return bits
}

// Has reports whether every bit in want is present in b.
func (b AccessBits) Has(want AccessBits) bool {
	return b&want == want
}
