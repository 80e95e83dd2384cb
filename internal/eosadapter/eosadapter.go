// Package eosadapter implements the EOS-side pipeline.ChainAdapter
// (C8), advancing the incremerkle light client (C5/C6) per submission
// and converting EOS asset-denominated pegins through the token
// dictionary (C4), grounded in the teacher's
// pkg/chain/strategy/evm_strategy.go shape and generalized from EVM
// logs to EOS action traces.
package eosadapter

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/incremerkle"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
	"github.com/proofcastlabs/bridge-enclave/internal/pipeline"
)

// PegInTopic marks the synthetic log an EOS submission carries its
// pegin action trace in. EOS action traces have no EVM log shape of
// their own, so a pegin is wrapped the same way btcadapter wraps a BTC
// deposit, letting the rest of C8 stay platform-generic.
var PegInTopic = crypto.Keccak256Hash([]byte("EOSPegIn(bytes)"))

// PegIn is the wire payload of a single EOS pegin action trace.
type PegIn struct {
	Asset                 string `json:"asset"`
	EthDestinationAccount string `json:"eth_destination_account"`
	OriginAccount         string `json:"origin_account"`
}

// Adapter implements pipeline.ChainAdapter for PlatformEOS. It is
// constructed fresh per transaction by the orchestrator's adapter
// factory so its incremerkle ring (C5/C6) is bound to the in-flight
// kv.Tx, the same lifecycle pipeline.Store and dictionary.Dictionary
// already have per ProcessBlock call.
type Adapter struct {
	tx          kv.Tx
	peerAddress string
}

// New constructs an Adapter bound to tx, resolving the wrapped token
// through the dictionary entry keyed by peerAddress (the bridge
// contract's own EOS account name).
func New(tx kv.Tx, peerAddress string) *Adapter {
	return &Adapter{tx: tx, peerAddress: peerAddress}
}

// Platform reports PlatformEOS.
func (a *Adapter) Platform() pipeline.Platform { return pipeline.PlatformEOS }

// ValidateHeader advances the incremerkle ring to material's block:
// Seed bootstraps an empty ring on the chain side's first submission,
// otherwise the block id is appended to the existing chain tip.
// chainID is unused — EOS has no EVM-style chain id to check against.
func (a *Adapter) ValidateHeader(material *ethsubmission.Material, chainID *big.Int) error {
	ring, err := incremerkle.Load(a.tx)
	if err != nil {
		return err
	}
	blockNum, err := material.GetBlockNumber()
	if err != nil {
		return fmt.Errorf("eosadapter: %w", err)
	}
	id := incremerkle.Digest(material.Hash)

	switch {
	case ring.LatestBlockNum() == 0:
		if err := ring.Seed([]incremerkle.Digest{id}); err != nil {
			return fmt.Errorf("eosadapter: seed ring: %w", err)
		}
	case blockNum.Uint64() > ring.LatestBlockNum():
		if err := ring.AppendBlockIDs(blockNum.Uint64(), []incremerkle.Digest{id}); err != nil {
			return fmt.Errorf("eosadapter: append block id: %w", err)
		}
	default:
		return fmt.Errorf("eosadapter: block %d does not advance ring tip %d", blockNum.Uint64(), ring.LatestBlockNum())
	}
	return ring.Save(a.tx)
}

// ExtractEvents decodes each PegInTopic log into a PegIn action trace
// and converts its EOS asset-denominated amount into wei through the
// dictionary entry resolved by peerAddress.
func (a *Adapter) ExtractEvents(material *ethsubmission.Material, dict *dictionary.Dictionary) ([]pipeline.PegEvent, error) {
	entry, err := dict.GetByPeerAddress(a.peerAddress)
	if err != nil {
		return nil, fmt.Errorf("eosadapter: %w", err)
	}

	var events []pipeline.PegEvent
	for _, receipt := range material.Receipts {
		for _, logEntry := range receipt.Logs {
			if len(logEntry.Topics) == 0 || logEntry.Topics[0] != PegInTopic {
				continue
			}
			var pegin PegIn
			if err := json.Unmarshal(logEntry.Data, &pegin); err != nil {
				return nil, fmt.Errorf("eosadapter: decode pegin: %w", err)
			}
			amount, err := entry.ConvertPeerAssetToEthAmount(pegin.Asset)
			if err != nil {
				return nil, fmt.Errorf("eosadapter: convert asset %q: %w", pegin.Asset, err)
			}
			events = append(events, pipeline.PegEvent{
				TokenAddress:       entry.EthAddress,
				Amount:             amount,
				OriginAccount:      pegin.OriginAccount,
				DestinationAccount: pegin.EthDestinationAccount,
				TopicVersion:       0,
			})
		}
	}
	return events, nil
}

// SignEgress signs (to, amount, nonce) with privateKey, the same
// signature-only scope evmadapter.SignEgress keeps to: assembling and
// broadcasting the EOS-side pegout action is an external collaborator
// concern spec.md names, out of this component's scope.
func (a *Adapter) SignEgress(to string, amount *big.Int, nonce uint64, privateKey []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("eosadapter: parse private key: %w", err)
	}
	digest := crypto.Keccak256([]byte(to), amount.Bytes(), new(big.Int).SetUint64(nonce).Bytes())
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("eosadapter: sign: %w", err)
	}
	return sig, nil
}
