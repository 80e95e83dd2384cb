// Package btcadapter implements the BTC-side pipeline.ChainAdapter
// (C8), threading every submitted deposit through the deposit address
// registry (C3) and the persistent UTXO ledger (C2), grounded in the
// teacher's pkg/chain/strategy/evm_strategy.go shape and generalized
// from EVM logs to BTC's UTXO model.
package btcadapter

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/btcdeposit"
	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/pipeline"
	"github.com/proofcastlabs/bridge-enclave/internal/utxo"
)

// PegInTopic marks the synthetic log a BTC submission carries its
// deposit payload in. BTC has no EVM-shaped log of its own, so a
// submitted deposit is wrapped as a single-log receipt the same way
// evmadapter scans real PegIn logs, letting the rest of C8 (receipts-
// root check, linkage, persistence, advance) stay platform-generic.
var PegInTopic = crypto.Keccak256Hash([]byte("BTCPegIn(bytes)"))

// Deposit is the wire payload of a single BTC UTXO deposit, JSON-
// encoded into a synthetic log's Data field by the chain-side syncer
// that assembles submission material.
type Deposit struct {
	RawTx          []byte          `json:"raw_tx"`
	TxID           chainhash.Hash  `json:"txid"`
	Vout           uint32          `json:"vout"`
	ValueSats      int64           `json:"value_sats"`
	PubKey         []byte          `json:"pub_key"`
	Info           btcdeposit.Info `json:"info"`
	EthDestination common.Address  `json:"eth_destination"`
}

// Adapter implements pipeline.ChainAdapter for PlatformBTC. It is
// constructed fresh per transaction by the orchestrator's adapter
// factory so its Ledger is bound to the in-flight kv.Tx (C2 requires a
// transactional view, unlike evmadapter which carries no store state
// at all).
type Adapter struct {
	ledger      *utxo.Ledger
	net         *chaincfg.Params
	registry    btcdeposit.ChainIDRegistry
	peerAddress string
}

// New constructs an Adapter bound to ledger, validating deposit
// addresses against net and registry and resolving the wrapped token
// through the dictionary entry keyed by peerAddress (e.g. "BTC").
func New(ledger *utxo.Ledger, net *chaincfg.Params, registry btcdeposit.ChainIDRegistry, peerAddress string) *Adapter {
	return &Adapter{ledger: ledger, net: net, registry: registry, peerAddress: peerAddress}
}

// Platform reports PlatformBTC.
func (a *Adapter) Platform() pipeline.Platform { return pipeline.PlatformBTC }

// ValidateHeader is a no-op beyond the receipts-root check the
// pipeline itself already performs: BTC proof-of-work re-derivation is
// the "no re-derivation of consensus" non-goal named in spec.md, so
// header trust is assumed to come from the submitter's own light
// client, not recomputed here.
func (a *Adapter) ValidateHeader(material *ethsubmission.Material, chainID *big.Int) error {
	return nil
}

// ExtractEvents decodes each PegInTopic log into a Deposit, validates
// its deposit-address commitment via btcdeposit.Validate, inserts it
// into the UTXO ledger (Insert is idempotent on duplicate txid:vout,
// per C2) and emits a PegEvent for the dictionary-resolved token.
func (a *Adapter) ExtractEvents(material *ethsubmission.Material, dict *dictionary.Dictionary) ([]pipeline.PegEvent, error) {
	entry, err := dict.GetByPeerAddress(a.peerAddress)
	if err != nil {
		return nil, fmt.Errorf("btcadapter: %w", err)
	}

	var events []pipeline.PegEvent
	for _, receipt := range material.Receipts {
		for _, logEntry := range receipt.Logs {
			if len(logEntry.Topics) == 0 || logEntry.Topics[0] != PegInTopic {
				continue
			}
			var dep Deposit
			if err := json.Unmarshal(logEntry.Data, &dep); err != nil {
				return nil, fmt.Errorf("btcadapter: decode deposit: %w", err)
			}
			if err := btcdeposit.Validate(&dep.Info, dep.PubKey, a.net, a.registry); err != nil {
				return nil, fmt.Errorf("btcadapter: invalid deposit address: %w", err)
			}

			exists, err := a.ledger.Exists(dep.TxID, dep.Vout)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
			info := dep.Info
			if err := a.ledger.Insert(&utxo.Entry{
				RawTx:       dep.RawTx,
				TxID:        dep.TxID,
				Vout:        dep.Vout,
				ValueSats:   dep.ValueSats,
				DepositInfo: &info,
			}); err != nil {
				return nil, fmt.Errorf("btcadapter: insert utxo: %w", err)
			}

			events = append(events, pipeline.PegEvent{
				TokenAddress:       entry.EthAddress,
				Amount:             entry.ConvertPeerAmountToEthAmount(big.NewInt(dep.ValueSats)),
				OriginAccount:      dep.TxID.String(),
				DestinationAccount: dep.EthDestination.Hex(),
				TopicVersion:       0,
			})
		}
	}
	return events, nil
}

// SignEgress selects UTXOs from the ledger worth at least amount (via
// C2's FIFO Take/PopHead) and signs a withdrawal descriptor over
// (to, amount, nonce) — actual BTC transaction construction/broadcast
// from the spent inputs is the external collaborator concern spec.md
// names, matching the scope evmadapter.SignEgress already keeps to.
func (a *Adapter) SignEgress(to string, amount *big.Int, nonce uint64, privateKey []byte) ([]byte, error) {
	spent, err := a.takeUTXOsFor(amount)
	if err != nil {
		return nil, err
	}

	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("btcadapter: parse private key: %w", err)
	}
	digest := crypto.Keccak256([]byte(to), amount.Bytes(), new(big.Int).SetUint64(nonce).Bytes())
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("btcadapter: sign: %w", err)
	}

	return json.Marshal(struct {
		Signature []byte        `json:"signature"`
		Inputs    []*utxo.Entry `json:"inputs"`
	}{Signature: sig, Inputs: spent})
}

// takeUTXOsFor pops ledger entries in FIFO order until their combined
// value covers target.
func (a *Adapter) takeUTXOsFor(target *big.Int) ([]*utxo.Entry, error) {
	var spent []*utxo.Entry
	sum := new(big.Int)
	for sum.Cmp(target) < 0 {
		e, err := a.ledger.PopHead()
		if err != nil {
			return nil, fmt.Errorf("btcadapter: insufficient utxos for egress of %s: %w", target, err)
		}
		spent = append(spent, e)
		sum.Add(sum, big.NewInt(e.ValueSats))
	}
	return spent, nil
}
