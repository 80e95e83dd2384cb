// Package ethsubmission implements C7: ETH submission material, the
// TEE-sized representation of a block plus its receipts that is
// submitted across the pipeline, with receipts-root verification via a
// Merkle-Patricia trie and the block/receipt trimming the teacher's
// memory-constrained deployments require, per spec.md §3/§4.7 and
// common/ethereum/src/eth_submission_material.rs.
package ethsubmission

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Material is a single ETH submission unit. Block and Receipts are
// pointers/slices so they can be trimmed to nil/empty once validated,
// keeping long-term storage minimal.
type Material struct {
	Block           *types.Header    `json:"block,omitempty"`
	Receipts        []*types.Receipt `json:"receipts"`
	Hash            common.Hash      `json:"hash"`
	BlockNumber     *big.Int         `json:"block_number"`
	ParentHash      common.Hash      `json:"parent_hash"`
	ReceiptsRoot    common.Hash      `json:"receipts_root"`
	EosRefBlockNum  *uint16          `json:"eos_ref_block_num,omitempty"`
	EosRefBlockPref *uint32          `json:"eos_ref_block_prefix,omitempty"`
	Timestamp       uint64           `json:"timestamp"`
}

// GetBlockNumber returns BlockNumber or an error if absent.
func (m *Material) GetBlockNumber() (*big.Int, error) {
	if m.BlockNumber == nil {
		return nil, fmt.Errorf("ethsubmission: no block_number in submission material")
	}
	return m.BlockNumber, nil
}

// GetReceiptsRoot returns ReceiptsRoot, matching the original's
// Option-typed accessor in spirit (the zero hash is a valid root only
// for an empty receipt list, so callers relying on its presence should
// pair this with receipts-root verification).
func (m *Material) GetReceiptsRoot() common.Hash { return m.ReceiptsRoot }

// ReceiptsAreValid recomputes the receipts trie root from Receipts and
// compares it against ReceiptsRoot, the same check spec.md §8's
// "Receipts-root verification" property names.
func (m *Material) ReceiptsAreValid() (bool, error) {
	calculated := ReceiptsRoot(m.Receipts)
	return calculated == m.ReceiptsRoot, nil
}

// ReceiptsRoot computes the Merkle-Patricia root over a receipt list
// the same way go-ethereum derives types.Header.ReceiptHash: each
// receipt RLP-encoded and keyed by its RLP-encoded index.
func ReceiptsRoot(receipts []*types.Receipt) common.Hash {
	return types.DeriveSha(types.Receipts(receipts), newStackTrieHasher())
}

// RemoveReceipts returns a copy of m with its receipts dropped, used
// once a submission has been validated and no longer needs its full
// receipt bodies retained.
func (m *Material) RemoveReceipts() *Material {
	cp := *m
	cp.Receipts = nil
	return &cp
}

// RemoveBlock returns a copy of m with its block header dropped.
func (m *Material) RemoveBlock() *Material {
	cp := *m
	cp.Block = nil
	return &cp
}

// NumReceipts reports how many receipts are currently retained.
func (m *Material) NumReceipts() int { return len(m.Receipts) }

// RemoveReceiptsNotFromAddresses keeps only receipts containing at
// least one log emitted by an address in addresses, trimming
// irrelevant receipts before persistence.
func (m *Material) RemoveReceiptsNotFromAddresses(addresses []common.Address) *Material {
	allowed := make(map[common.Address]bool, len(addresses))
	for _, a := range addresses {
		allowed[a] = true
	}
	kept := make([]*types.Receipt, 0, len(m.Receipts))
	for _, r := range m.Receipts {
		for _, l := range r.Logs {
			if allowed[l.Address] {
				kept = append(kept, r)
				break
			}
		}
	}
	cp := *m
	cp.Receipts = kept
	return &cp
}

// KeepOnlyReceiptsWithLogFromAddressAndTopic keeps only receipts
// containing at least one log both emitted by addr and carrying topic
// as its first topic — a narrower filter than
// RemoveReceiptsNotFromAddresses for adapters that watch one well-known
// event signature at one contract address.
func (m *Material) KeepOnlyReceiptsWithLogFromAddressAndTopic(addr common.Address, topic common.Hash) *Material {
	kept := make([]*types.Receipt, 0, len(m.Receipts))
	for _, r := range m.Receipts {
		for _, l := range r.Logs {
			if l.Address == addr && len(l.Topics) > 0 && l.Topics[0] == topic {
				kept = append(kept, r)
				break
			}
		}
	}
	cp := *m
	cp.Receipts = kept
	return &cp
}
