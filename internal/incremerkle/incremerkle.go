// Package incremerkle implements the EOS light client's constant-size
// Merkle accumulator (C5) and its ring of recent accumulators (C6), per
// spec.md §3/§4.5 and common/eos/src/eos_incremerkle.rs. The light
// client never stores full blocks; instead it advances a small set of
// active nodes so a later, non-adjacent block can be verified against
// one of the last MaxRingSize accumulators by replaying the
// intervening block ids.
package incremerkle

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxRingSize bounds how many recent accumulators are retained,
// allowing verification against any of the last MaxRingSize chain tips
// instead of only the very latest one.
const MaxRingSize = 10

// Digest is a 32-byte EOS block-id-shaped hash, reusing chainhash.Hash
// for its comparable, fixed-size array representation.
type Digest = chainhash.Hash

// Accumulator is the append-only, constant-size Merkle tree state: a
// node count and the current set of active (partially or fully
// realized) nodes.
type Accumulator struct {
	NodeCount   uint64   `json:"node_count"`
	ActiveNodes []Digest `json:"active_nodes"`
}

// BlockNum reports the block number this accumulator currently
// represents, which equals its node count.
func (a *Accumulator) BlockNum() uint64 { return a.NodeCount }

func makeCanonicalLeft(v Digest) Digest {
	r := v
	r[0] &= 0x7f
	return r
}

func makeCanonicalRight(v Digest) Digest {
	r := v
	r[0] |= 0x80
	return r
}

func makeCanonicalPair(l, r Digest) (Digest, Digest) {
	return makeCanonicalLeft(l), makeCanonicalRight(r)
}

// IsCanonicalLeft reports whether v's tag byte marks it as the left
// sibling of a pair.
func IsCanonicalLeft(v Digest) bool { return v[0]&0x80 == 0 }

// IsCanonicalRight is the complement of IsCanonicalLeft.
func IsCanonicalRight(v Digest) bool { return v[0]&0x80 != 0 }

// hashPair is a single SHA-256 over the canonical (left||right) pair —
// EOS's block merkle uses single, not double, SHA-256.
func hashPair(l, r Digest) Digest {
	left, right := makeCanonicalPair(l, r)
	return sha256.Sum256(append(append([]byte{}, left[:]...), right[:]...))
}

// countLeadingZeroesOfPowerOfTwo takes a power of two and returns the
// number of zero bits below its set bit (its base-2 logarithm: 0 for 1,
// 1 for 2, 63 for 1<<63), or 64 for 0, via the classic
// parallel-bisection technique.
func countLeadingZeroesOfPowerOfTwo(value uint64) int {
	leadingZeroes := 64
	if value != 0 {
		leadingZeroes--
	}
	if value&0x00000000FFFFFFFF != 0 {
		leadingZeroes -= 32
	}
	if value&0x0000FFFF0000FFFF != 0 {
		leadingZeroes -= 16
	}
	if value&0x00FF00FF00FF00FF != 0 {
		leadingZeroes -= 8
	}
	if value&0x0F0F0F0F0F0F0F0F != 0 {
		leadingZeroes -= 4
	}
	if value&0x3333333333333333 != 0 {
		leadingZeroes -= 2
	}
	if value&0x5555555555555555 != 0 {
		leadingZeroes--
	}
	return leadingZeroes
}

func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// calculateMaxDepth returns the depth of the minimal fully-balanced
// binary tree that stores nodeCount leaves.
func calculateMaxDepth(nodeCount uint64) int {
	if nodeCount == 0 {
		return 0
	}
	implied := nextPowerOfTwo(nodeCount)
	return countLeadingZeroesOfPowerOfTwo(implied) + 1
}

// Append adds digest as the next leaf and returns the new root,
// collapsing the tree bottom-up one level at a time. Ported verbatim
// from the bit-for-bit algorithm of the reference implementation.
func (a *Accumulator) Append(digest Digest) (Digest, error) {
	maxDepth := calculateMaxDepth(a.NodeCount + 1)
	if maxDepth == 0 {
		return Digest{}, fmt.Errorf("incremerkle: zero depth appending to accumulator")
	}
	currentDepth := maxDepth - 1
	index := a.NodeCount
	top := digest
	partial := false
	activeIdx := 0
	updated := make([]Digest, 0, maxDepth)

	for currentDepth > 0 {
		if index%2 == 0 {
			if !partial {
				updated = append(updated, top)
			}
			top = hashPair(top, top)
			partial = true
		} else {
			if activeIdx >= len(a.ActiveNodes) {
				return Digest{}, fmt.Errorf("incremerkle: active node underflow during append")
			}
			left := a.ActiveNodes[activeIdx]
			activeIdx++
			if partial {
				updated = append(updated, left)
			}
			top = hashPair(left, top)
		}
		currentDepth--
		index /= 2
	}

	updated = append(updated, top)
	a.ActiveNodes = updated
	a.NodeCount++
	return a.ActiveNodes[len(a.ActiveNodes)-1], nil
}

// Root returns the accumulator's current Merkle root, or the zero
// digest if nothing has been appended.
func (a *Accumulator) Root() Digest {
	if a.NodeCount == 0 || len(a.ActiveNodes) == 0 {
		return Digest{}
	}
	return a.ActiveNodes[len(a.ActiveNodes)-1]
}
