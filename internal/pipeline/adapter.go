// Package pipeline implements the chain pipeline (C8): the generic
// validate→link→extract→persist→advance→derive-egress→sign→commit
// skeleton shared by every chain side the enclave bridges, with a
// ChainAdapter plugged in per platform. Modeled on the teacher's
// pkg/chain/strategy.ChainExecutionStrategy interface, generalized from
// "anchor workflow" steps to the submission pipeline's own steps.
package pipeline

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
)

// Platform identifies the blockchain platform an adapter serves,
// mirroring the teacher's ChainPlatform enum.
type Platform string

const (
	PlatformBTC Platform = "btc"
	PlatformEOS Platform = "eos"
	PlatformEVM Platform = "evm"
)

// PegEvent is a single extracted peg-in/peg-out event, normalized
// across wire topic versions (v0/v1/v2 and the EOS-side "pegout"
// analog), per spec.md §6's wire event topic list.
type PegEvent struct {
	TokenAddress       common.Address
	Amount             *big.Int
	OriginAccount      string
	DestinationAccount string
	UserData           []byte
	OriginChainID      *[4]byte
	DestinationChainID *[4]byte
	TopicVersion       int
}

// EgressTx is a signed, nonce-assigned egress for the peer chain: Raw
// holds the signature bytes the adapter's SignEgress returned, not an
// assembled transaction.
type EgressTx struct {
	Raw   []byte
	Nonce uint64
	To    string
	Value *big.Int
}

// ChainAdapter is implemented once per chain platform and supplies the
// platform-specific pieces of an otherwise identical pipeline: header
// validation, event extraction from submission material, and egress
// transaction signing. Modeled on strategy.ChainExecutionStrategy,
// generalized from the 3-step anchor workflow to C8's 8 steps.
type ChainAdapter interface {
	Platform() Platform

	// ValidateHeader applies the platform's own header rules (the EVM
	// adapter's chain-id check, the EOS adapter's incremerkle advance)
	// beyond the generic receipts-root check the pipeline itself
	// performs. No adapter checks difficulty, timestamps or extra data.
	ValidateHeader(material *ethsubmission.Material, chainID *big.Int) error

	// ExtractEvents scans material's receipts for the adapter's known
	// peg-in/peg-out topic set, resolving token addresses through dict.
	ExtractEvents(material *ethsubmission.Material, dict *dictionary.Dictionary) ([]PegEvent, error)

	// SignEgress signs (to, amount, nonce) with the per-chain private key
	// and returns the signature bytes; assembling them into a
	// broadcastable transaction is left to the caller.
	SignEgress(to string, amount *big.Int, nonce uint64, privateKey []byte) ([]byte, error)
}
