package incremerkle

import (
	"encoding/json"
	"fmt"

	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

var keyRing = []byte("EOS_INCREMERKLE_RING")

// Ring holds up to MaxRingSize accumulators, most-recent first, so a
// submission can be verified against any recent chain tip rather than
// only the very latest one.
type Ring struct {
	accumulators []*Accumulator
}

// NewRing wraps accs as a Ring, most-recent first.
func NewRing(accs []*Accumulator) *Ring {
	cp := make([]*Accumulator, len(accs))
	copy(cp, accs)
	return &Ring{accumulators: cp}
}

// Load reads the ring persisted under keyRing. A missing key yields an
// empty ring.
func Load(tx kv.Tx) (*Ring, error) {
	b, err := tx.Get(keyRing, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return NewRing(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var accs []*Accumulator
	if err := json.Unmarshal(b, &accs); err != nil {
		return nil, fmt.Errorf("incremerkle: unmarshal ring: %w", err)
	}
	return NewRing(accs), nil
}

// Save persists the whole ring.
func (r *Ring) Save(tx kv.Tx) error {
	b, err := json.Marshal(r.accumulators)
	if err != nil {
		return fmt.Errorf("incremerkle: marshal ring: %w", err)
	}
	return tx.Put(keyRing, b, kv.SensitivityMin)
}

// LatestBlockNum returns the block number of the chain-tip accumulator,
// or 0 if the ring is empty.
func (r *Ring) LatestBlockNum() uint64 {
	if len(r.accumulators) == 0 {
		return 0
	}
	return r.accumulators[0].BlockNum()
}

// LatestRoot returns the Merkle root of the chain-tip accumulator.
func (r *Ring) LatestRoot() (Digest, error) {
	if len(r.accumulators) == 0 {
		return Digest{}, fmt.Errorf("incremerkle: ring is empty")
	}
	return r.accumulators[0].Root(), nil
}

// PreviousBlockNums returns the block numbers of every accumulator
// except the chain tip, i.e. the other verification points retained in
// the ring.
func (r *Ring) PreviousBlockNums() []uint64 {
	out := make([]uint64, 0, len(r.accumulators))
	for _, a := range r.accumulators[minInt(1, len(r.accumulators)):] {
		out = append(out, a.BlockNum())
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (r *Ring) indexForBlockNum(blockNum uint64) (int, error) {
	for i, a := range r.accumulators {
		if a.BlockNum() == blockNum {
			return i, nil
		}
	}
	return 0, fmt.Errorf("incremerkle: no accumulator found for block num %d", blockNum)
}

// add inserts acc at the front of the ring if its block number
// advances the chain tip (or the ring was empty), truncating to
// MaxRingSize. An acc behind the current tip is silently ignored.
func (r *Ring) add(acc *Accumulator) {
	if len(r.accumulators) == 0 || acc.BlockNum() > r.LatestBlockNum() {
		r.accumulators = append([]*Accumulator{acc}, r.accumulators...)
		if len(r.accumulators) > MaxRingSize {
			r.accumulators = r.accumulators[:MaxRingSize]
		}
	}
}

// Seed bootstraps the ring from an empty starting point: ids are
// appended to a fresh zero-value accumulator and the result is
// inserted as the chain tip. Unlike AppendBlockIDs, Seed requires no
// pre-existing source accumulator, so it is the only way to populate a
// ring that Load returned empty.
func (r *Ring) Seed(ids []Digest) error {
	acc := &Accumulator{}
	for _, id := range ids {
		if _, err := acc.Append(id); err != nil {
			return fmt.Errorf("incremerkle: seed: %w", err)
		}
	}
	r.add(acc)
	return nil
}

// AppendBlockIDs extends the ring with a run of block ids connecting
// the accumulator at blockNum-len(ids) to a newly submitted block at
// blockNum. If that source accumulator is the chain tip (index 0), the
// resulting accumulator is added as a new chain tip; otherwise the
// accumulator at its existing index is replaced in place without
// advancing the tip, per the original source's add_block_ids.
func (r *Ring) AppendBlockIDs(blockNum uint64, ids []Digest) error {
	numIDs := uint64(len(ids))
	var sourceBlockNum uint64
	if blockNum > numIDs {
		sourceBlockNum = blockNum - numIDs
	}

	idx, err := r.indexForBlockNum(sourceBlockNum)
	if err != nil {
		return err
	}

	acc := *r.accumulators[idx]
	for _, id := range ids {
		if _, err := acc.Append(id); err != nil {
			return fmt.Errorf("incremerkle: append block id: %w", err)
		}
	}

	if idx == 0 {
		r.add(&acc)
	} else {
		r.accumulators[idx] = &acc
	}
	return nil
}
