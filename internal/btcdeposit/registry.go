// Package btcdeposit implements the deposit address registry (C3):
// commitment-hash-based P2SH deposit address validation across four
// versioned schemes, per spec.md §3/§4.3 and
// original_source/src/chains/btc/deposit_address_info.rs.
package btcdeposit

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// Version identifies the deposit-address derivation scheme.
type Version int

const (
	V0 Version = iota
	V1
	V2
	V3
)

// Info is a versioned deposit address record, per spec.md §3.
type Info struct {
	Nonce          uint64         `json:"nonce"`
	Address        string         `json:"address"`
	DepositAddress string         `json:"deposit_address"`
	CommitmentHash chainhash.Hash `json:"commitment_hash"`
	UserData       []byte         `json:"user_data,omitempty"`
	ChainID        *[4]byte       `json:"chain_id,omitempty"`
	Version        Version        `json:"version"`
}

// ChainIDRegistry maps known 4-byte chain ids (V2/V3) to human-readable
// peer-chain names. An unknown chain id must be rejected.
type ChainIDRegistry map[[4]byte]string

// addressBytes returns the byte encoding of Address per the version's
// rule: V0/V2 hex-decode an ETH-style address, V1/V3 use raw UTF-8.
func (i *Info) addressBytes() ([]byte, error) {
	switch i.Version {
	case V1, V3:
		return []byte(i.Address), nil
	case V0, V2:
		return hex.DecodeString(trimHexPrefix(i.Address))
	default:
		return nil, fmt.Errorf("btcdeposit: unknown version %d", i.Version)
	}
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func nonceLE(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// calculateCommitmentHash implements the four derivation rules of
// spec.md §3: V0/V1 hash(address||nonce); V2/V3 additionally append
// chain_id and user_data.
func (i *Info) calculateCommitmentHash() (chainhash.Hash, error) {
	addrBytes, err := i.addressBytes()
	if err != nil {
		return chainhash.Hash{}, err
	}
	buf := append(append([]byte{}, addrBytes...), nonceLE(i.Nonce)...)
	switch i.Version {
	case V0, V1:
		return chainhash.DoubleHashH(buf), nil
	case V2, V3:
		if i.ChainID == nil {
			return chainhash.Hash{}, fmt.Errorf("btcdeposit: version %d requires chain_id", i.Version)
		}
		buf = append(buf, i.ChainID[:]...)
		buf = append(buf, i.UserData...)
		return chainhash.DoubleHashH(buf), nil
	default:
		return chainhash.Hash{}, fmt.Errorf("btcdeposit: unknown version %d", i.Version)
	}
}

// redeemScript builds <commitment_hash> OP_DROP <pub_key> OP_CHECKSIG.
func redeemScript(pubKey []byte, commitmentHash chainhash.Hash) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(commitmentHash[:]).
		AddOp(txscript.OP_DROP).
		AddData(pubKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// deriveP2SH computes the P2SH address over the redeem script for the
// given network.
func deriveP2SH(pubKey []byte, commitmentHash chainhash.Hash, net *chaincfg.Params) (*btcutil.AddressScriptHash, error) {
	script, err := redeemScript(pubKey, commitmentHash)
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressScriptHash(script, net)
}

// Validate implements spec.md §4.3 and the Testable Properties "Deposit
// validity" invariant: recompute the commitment hash and P2SH address,
// compare both against the submitted values, and for V2/V3 additionally
// resolve the chain id through registry (unknown id is rejected).
func Validate(info *Info, pubKey []byte, net *chaincfg.Params, registry ChainIDRegistry) error {
	calculated, err := info.calculateCommitmentHash()
	if err != nil {
		return err
	}
	if calculated != info.CommitmentHash {
		return fmt.Errorf("btcdeposit: commitment hash mismatch: calculated %s, submitted %s", calculated, info.CommitmentHash)
	}

	addr, err := deriveP2SH(pubKey, info.CommitmentHash, net)
	if err != nil {
		return fmt.Errorf("btcdeposit: derive p2sh address: %w", err)
	}
	if addr.EncodeAddress() != info.DepositAddress {
		return fmt.Errorf("btcdeposit: deposit address mismatch: calculated %s, submitted %s", addr.EncodeAddress(), info.DepositAddress)
	}

	if info.Version == V2 || info.Version == V3 {
		if info.ChainID == nil {
			return fmt.Errorf("btcdeposit: version %d requires chain_id", info.Version)
		}
		if _, ok := registry[*info.ChainID]; !ok {
			return fmt.Errorf("btcdeposit: unknown chain id %x", *info.ChainID)
		}
	}

	return nil
}
