package pipeline

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/coreerr"
	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
)

// SafeAddresses lists the destination addresses that must be diverted
// to the configured safe address rather than executed as normal
// egress, per spec.md §4.8 step 7: zero address, the token's own
// address, the configured router, and the configured vault.
type SafeAddresses struct {
	Zero   common.Address
	Router common.Address
	Vault  common.Address
	Safe   common.Address
}

// divert returns the safe address in place of dest if dest matches one
// of the diversion triggers for token.
func (sa SafeAddresses) divert(dest, token common.Address) common.Address {
	if dest == sa.Zero || dest == token || dest == sa.Router || dest == sa.Vault {
		return sa.Safe
	}
	return dest
}

// Pipeline runs the validate→link→extract→persist→advance→derive-
// egress→sign→commit skeleton of spec.md §4.8 over one Store, one
// ChainAdapter, and the token dictionary shared across chain sides.
// The caller wraps ProcessBlock in a kv.Run transaction; "commit" is simply
// returning a nil error and letting the enclosing transaction commit.
type Pipeline struct {
	store   *Store
	adapter ChainAdapter
	safe    SafeAddresses
	// catchUp disables the parent-linkage check, used during an
	// initial bulk resync per the core's "reprocess" mode.
	catchUp bool
}

// New constructs a Pipeline bound to store and adapter.
func New(store *Store, adapter ChainAdapter, safe SafeAddresses, catchUp bool) *Pipeline {
	return &Pipeline{store: store, adapter: adapter, safe: safe, catchUp: catchUp}
}

// Result summarizes one ProcessBlock call's outcome for the caller
// (typically surfaced back through C11).
type Result struct {
	AcceptedHash  common.Hash
	Events        []PegEvent
	Egress        []EgressTx
	CanonAdvanced bool
}

// ProcessBlock implements spec.md §4.8's eight steps for a single
// already-parsed submission material against dict.
func (p *Pipeline) ProcessBlock(material *ethsubmission.Material, dict *dictionary.Dictionary, privateKey []byte) (*Result, error) {
	if err := p.validate(material); err != nil {
		return nil, err
	}
	if err := p.link(material); err != nil {
		return nil, err
	}
	events, err := p.adapter.ExtractEvents(material, dict)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindBadSubmission, "pipeline: extract events", err)
	}
	if err := p.persist(material); err != nil {
		return nil, err
	}
	canonAdvanced, err := p.advance(material)
	if err != nil {
		return nil, err
	}
	egress, err := p.deriveAndSignEgress(events, dict, privateKey)
	if err != nil {
		return nil, err
	}
	return &Result{AcceptedHash: material.Hash, Events: events, Egress: egress, CanonAdvanced: canonAdvanced}, nil
}

// validate checks the receipts-root invariant and defers to the
// adapter for chain-id-aware header rules.
func (p *Pipeline) validate(material *ethsubmission.Material) error {
	ok, err := material.ReceiptsAreValid()
	if err != nil {
		return coreerr.Wrap(coreerr.KindValidationFailed, "pipeline: receipts validity check", err)
	}
	if !ok {
		return coreerr.New(coreerr.KindValidationFailed, "pipeline: receipts root mismatch")
	}
	chainID, err := p.store.ChainID()
	if err != nil {
		return err
	}
	if err := p.adapter.ValidateHeader(material, chainID); err != nil {
		return coreerr.Wrap(coreerr.KindValidationFailed, "pipeline: header validation", err)
	}
	return nil
}

// link implements spec.md §4.8 step 3 plus the fork-absorption rule:
// accept a direct extension of the current tip, or a reorg whose fork
// point is within canonToTipLength of the tip; anything deeper is
// fatal. catchUp bypasses the check entirely for bulk resync.
func (p *Pipeline) link(material *ethsubmission.Material) error {
	if p.catchUp {
		return nil
	}
	tip, hasTip, err := p.store.LatestBlockHash()
	if err != nil {
		return err
	}
	if !hasTip {
		return nil
	}
	if material.ParentHash == tip {
		return nil
	}

	canonToTip, err := p.store.CanonToTipLength()
	if err != nil {
		return err
	}

	cursor := tip
	for depth := uint64(0); depth < canonToTip; depth++ {
		block, ok, err := p.store.GetBlock(cursor)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if material.ParentHash == cursor {
			return nil
		}
		cursor = block.ParentHash
	}

	return coreerr.New(coreerr.KindValidationFailed, fmt.Sprintf("pipeline: chain break — parent %s not found within canon-to-tip window", material.ParentHash))
}

func (p *Pipeline) persist(material *ethsubmission.Material) error {
	return p.store.PutBlock(material)
}

// advance implements spec.md §4.8 step 6: move the tip, advance the
// canonical pointer once the canon-to-tip window is exceeded, and
// prune receipts for blocks that fall behind the tail.
func (p *Pipeline) advance(material *ethsubmission.Material) (bool, error) {
	if err := p.store.SetLatestBlockHash(material.Hash); err != nil {
		return false, err
	}

	canonToTip, err := p.store.CanonToTipLength()
	if err != nil {
		return false, err
	}

	canonHash, hasCanon, err := p.store.CanonBlockHash()
	if err != nil {
		return false, err
	}
	if !hasCanon {
		if err := p.store.SetCanonBlockHash(material.Hash); err != nil {
			return false, err
		}
		if err := p.store.SetTailBlockHash(material.Hash); err != nil {
			return false, err
		}
		return true, nil
	}

	depth := uint64(0)
	cursor := material.Hash
	for cursor != canonHash {
		block, ok, err := p.store.GetBlock(cursor)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		cursor = block.ParentHash
		depth++
		if depth > canonToTip*4 {
			// Canon pointer has fallen too far behind to walk; treat as
			// fatal rather than looping unbounded.
			return false, coreerr.New(coreerr.KindMissingState, "pipeline: canon pointer unreachable from tip")
		}
	}

	if depth <= canonToTip {
		return false, nil
	}

	// Advance canon forward by (depth - canonToTip) blocks from its
	// current position toward the tip.
	steps := depth - canonToTip
	newCanon := material.Hash
	for i := uint64(0); i < canonToTip; i++ {
		block, ok, err := p.store.GetBlock(newCanon)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		newCanon = block.ParentHash
	}
	if err := p.store.SetCanonBlockHash(newCanon); err != nil {
		return false, err
	}

	tailHash, hasTail, err := p.store.TailBlockHash()
	if err != nil {
		return false, err
	}
	if hasTail {
		cursor = tailHash
		for i := uint64(0); i < steps; i++ {
			if err := p.store.PruneReceipts(cursor); err != nil {
				return false, err
			}
			block, ok, err := p.store.GetBlock(cursor)
			if err != nil {
				return false, err
			}
			if !ok {
				break
			}
			nextTail, found, err := p.findChild(cursor, material.Hash)
			if err != nil {
				return false, err
			}
			if !found {
				break
			}
			cursor = nextTail
			_ = block
		}
		if err := p.store.SetTailBlockHash(cursor); err != nil {
			return false, err
		}
	}

	return true, nil
}

// findChild walks back from tip toward cursor and returns the block
// whose parent is cursor, i.e. cursor's child on the tip's chain.
func (p *Pipeline) findChild(cursor, tip common.Hash) (common.Hash, bool, error) {
	walker := tip
	var prev common.Hash
	for walker != cursor {
		block, ok, err := p.store.GetBlock(walker)
		if err != nil {
			return common.Hash{}, false, err
		}
		if !ok {
			return common.Hash{}, false, nil
		}
		prev = walker
		walker = block.ParentHash
	}
	if prev == (common.Hash{}) {
		return common.Hash{}, false, nil
	}
	return prev, true, nil
}

// deriveAndSignEgress implements spec.md §4.8 step 7: fee-adjust via
// the dictionary, divert unsafe destinations, sign, and bump the
// per-chain nonce for each derived egress transaction.
func (p *Pipeline) deriveAndSignEgress(events []PegEvent, dict *dictionary.Dictionary, privateKey []byte) ([]EgressTx, error) {
	var egress []EgressTx
	for _, ev := range events {
		entry, err := dict.GetByEthAddress(ev.TokenAddress)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.KindMissingState, "pipeline: unrecognized token in event", err)
		}

		fee := new(big.Int).Mul(ev.Amount, big.NewInt(int64(entry.EthFeeBasisPoints)))
		fee.Div(fee, big.NewInt(10000))
		net := new(big.Int).Sub(ev.Amount, fee)
		if net.Sign() < 0 {
			return nil, coreerr.New(coreerr.KindNotEnoughTokens, "pipeline: fee exceeds egress amount")
		}

		dest := p.safe.divert(common.HexToAddress(ev.DestinationAccount), ev.TokenAddress)

		nonce, err := p.store.AccountNonce()
		if err != nil {
			return nil, err
		}
		raw, err := p.adapter.SignEgress(dest.Hex(), net, nonce, privateKey)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.KindValidationFailed, "pipeline: sign egress", err)
		}
		if err := p.store.SetAccountNonce(nonce + 1); err != nil {
			return nil, err
		}

		egress = append(egress, EgressTx{Raw: raw, Nonce: nonce, To: dest.Hex(), Value: net})
	}
	return egress, nil
}
