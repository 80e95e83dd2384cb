// Package evmadapter implements the EVM-side pipeline.ChainAdapter
// (C8): header validation, peg-event extraction by log topic, and
// egress-transaction signing, grounded in the teacher's
// pkg/chain/strategy/evm_strategy.go.
package evmadapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/pipeline"
)

// PegInTopic is the keccak256 signature hash of the bridge's peg-in
// event, matching the teacher's topic-matching approach in
// evm_strategy.go (a single well-known topic0, no ABI unpacking
// library beyond go-ethereum itself).
var PegInTopic = crypto.Keccak256Hash([]byte("PegIn(address,uint256,string,bytes)"))

// Adapter implements pipeline.ChainAdapter for a single EVM chain id.
type Adapter struct {
	chainID *big.Int
}

// New constructs an Adapter for chainID.
func New(chainID *big.Int) *Adapter { return &Adapter{chainID: chainID} }

// Platform reports PlatformEVM.
func (a *Adapter) Platform() pipeline.Platform { return pipeline.PlatformEVM }

// ValidateHeader checks the block's chain id matches what this
// adapter was constructed for; deeper consensus/difficulty checks are
// the non-goal "no re-derivation of consensus" named in spec.md.
func (a *Adapter) ValidateHeader(material *ethsubmission.Material, chainID *big.Int) error {
	if chainID == nil || a.chainID == nil {
		return fmt.Errorf("evmadapter: chain id not configured")
	}
	if chainID.Cmp(a.chainID) != 0 {
		return fmt.Errorf("evmadapter: chain id mismatch: have %s, want %s", chainID, a.chainID)
	}
	return nil
}

// ExtractEvents scans material's receipts for PegInTopic logs,
// resolving each log's token address through dict.
func (a *Adapter) ExtractEvents(material *ethsubmission.Material, dict *dictionary.Dictionary) ([]pipeline.PegEvent, error) {
	var events []pipeline.PegEvent
	for _, receipt := range material.Receipts {
		for _, logEntry := range receipt.Logs {
			if len(logEntry.Topics) == 0 || logEntry.Topics[0] != PegInTopic {
				continue
			}
			event, err := decodePegIn(logEntry, dict)
			if err != nil {
				return nil, fmt.Errorf("evmadapter: decode peg-in at %s:%d: %w", logEntry.TxHash, logEntry.Index, err)
			}
			events = append(events, event)
		}
	}
	return events, nil
}

// decodePegIn unpacks a PegIn log's indexed token address (topic[1])
// and the ABI-encoded (amount, destinationAccount) tuple from Data.
func decodePegIn(logEntry *types.Log, dict *dictionary.Dictionary) (pipeline.PegEvent, error) {
	if len(logEntry.Topics) < 2 {
		return pipeline.PegEvent{}, fmt.Errorf("missing indexed token topic")
	}
	token := common.BytesToAddress(logEntry.Topics[1].Bytes())
	if _, err := dict.GetByEthAddress(token); err != nil {
		return pipeline.PegEvent{}, fmt.Errorf("unrecognized token %s: %w", token, err)
	}
	if len(logEntry.Data) < 64 {
		return pipeline.PegEvent{}, fmt.Errorf("short log data")
	}
	amount := new(big.Int).SetBytes(logEntry.Data[:32])
	destination := common.BytesToAddress(logEntry.Data[32:64]).Hex()

	return pipeline.PegEvent{
		TokenAddress:       token,
		Amount:             amount,
		DestinationAccount: destination,
		OriginAccount:      logEntry.Address.Hex(),
		TopicVersion:       0,
	}, nil
}

// SignEgress signs (to, amount, nonce) with privateKey using
// go-ethereum's secp256k1 signer — the egress tx body itself is
// chain-specific wire assembly out of this component's scope (spec.md
// names transaction construction as an external collaborator concern);
// this returns the raw 65-byte signature over the digest a caller's
// tx-assembly collaborator would hash.
func (a *Adapter) SignEgress(to string, amount *big.Int, nonce uint64, privateKey []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("evmadapter: parse private key: %w", err)
	}
	digest := crypto.Keccak256(
		common.HexToAddress(to).Bytes(),
		amount.Bytes(),
		new(big.Int).SetUint64(nonce).Bytes(),
	)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("evmadapter: sign: %w", err)
	}
	return sig, nil
}
