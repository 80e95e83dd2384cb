// Package debugsig implements the debug signatory set (C10):
// N-of-any EIP712-style command authorization with per-signer nonces,
// per spec.md §3/§4.10 and
// src/debug_mode/debug_signers/debug_signatories.rs.
package debugsig

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/coreerr"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

// Signatory is a single authorized debug signer.
type Signatory struct {
	Name       string         `json:"name"`
	EthAddress common.Address `json:"eth_address"`
	Nonce      uint64         `json:"nonce"`
}

func (s Signatory) incrementNonce() Signatory {
	s.Nonce++
	return s
}

// Set is an immutable list of signatories, unique by EthAddress.
type Set struct {
	signatories []Signatory
}

var keySignatories = []byte("DEBUG_SIGNATORIES")

// New wraps signatories as a Set.
func New(signatories []Signatory) *Set {
	cp := make([]Signatory, len(signatories))
	copy(cp, signatories)
	return &Set{signatories: cp}
}

// Load reads the persisted signatory set. A missing key yields an
// empty set.
func Load(tx kv.Tx) (*Set, error) {
	b, err := tx.Get(keySignatories, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return New(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var signatories []Signatory
	if err := json.Unmarshal(b, &signatories); err != nil {
		return nil, fmt.Errorf("debugsig: unmarshal: %w", err)
	}
	return New(signatories), nil
}

// Save persists the whole signatory set.
func (s *Set) Save(tx kv.Tx) error {
	b, err := json.Marshal(s.signatories)
	if err != nil {
		return fmt.Errorf("debugsig: marshal: %w", err)
	}
	return tx.Put(keySignatories, b, kv.SensitivityMin)
}

// Signatories returns a defensive copy of the set's members.
func (s *Set) Signatories() []Signatory {
	cp := make([]Signatory, len(s.signatories))
	copy(cp, s.signatories)
	return cp
}

func (s *Set) get(addr common.Address) (Signatory, int, error) {
	for i, sig := range s.signatories {
		if sig.EthAddress == addr {
			return sig, i, nil
		}
	}
	return Signatory{}, -1, fmt.Errorf("debugsig: no signatory for address %s", addr)
}

// Add returns a new Set with signatory appended, rejecting a duplicate
// address.
func (s *Set) Add(signatory Signatory) (*Set, error) {
	if _, _, err := s.get(signatory.EthAddress); err == nil {
		return nil, fmt.Errorf("debugsig: signatory %s already present", signatory.EthAddress)
	}
	return New(append(s.Signatories(), signatory)), nil
}

// Remove returns a new Set with addr's signatory removed.
func (s *Set) Remove(addr common.Address) (*Set, error) {
	_, idx, err := s.get(addr)
	if err != nil {
		return nil, err
	}
	out := s.Signatories()
	out = append(out[:idx], out[idx+1:]...)
	return New(out), nil
}

var hashArguments = abi.Arguments{
	{Type: mustType("string")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("debugsig: bad abi type %q: %v", t, err))
	}
	return ty
}

// HashToSign computes the EIP712-style digest over
// (core_type, debug_command_hash, signer_nonce) for a given signatory's
// current nonce, per spec.md §4.10.
func HashToSign(coreType string, debugCommandHash common.Hash, nonce uint64) (common.Hash, error) {
	packed, err := hashArguments.Pack(coreType, debugCommandHash, new(big.Int).SetUint64(nonce))
	if err != nil {
		return common.Hash{}, fmt.Errorf("debugsig: pack hash arguments: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// Challenge is the per-signer (address, nonce, hash-to-sign) tuple
// surfaced on authorization failure, or via the getChallenge/
// getChallengesList RPC methods, so an external signer UI can
// construct the next attempt.
type Challenge struct {
	EthAddress common.Address `json:"eth_address"`
	Nonce      uint64         `json:"nonce"`
	HashToSign common.Hash    `json:"hash_to_sign"`
}

// ChallengesList computes the Challenge for every signatory in s.
func (s *Set) ChallengesList(coreType string, debugCommandHash common.Hash) ([]Challenge, error) {
	out := make([]Challenge, 0, len(s.signatories))
	for _, sig := range s.signatories {
		hash, err := HashToSign(coreType, debugCommandHash, sig.Nonce)
		if err != nil {
			return nil, err
		}
		out = append(out, Challenge{EthAddress: sig.EthAddress, Nonce: sig.Nonce, HashToSign: hash})
	}
	return out, nil
}

// recoverSigner recovers the signing address from a 65-byte
// (r || s || v) signature over hash.
func recoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("debugsig: signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("debugsig: recover pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Validate iterates the signatory set and succeeds on the first
// address whose recovered signature matches the hash computed from
// its current nonce. On success, a new Set is returned with only that
// signatory's nonce incremented. On failure, every signatory's
// Challenge is returned so an external signer UI can retry.
func (s *Set) Validate(coreType string, debugCommandHash common.Hash, signature []byte) (*Set, error) {
	recovered, err := func() (common.Address, error) {
		for _, sig := range s.signatories {
			hash, err := HashToSign(coreType, debugCommandHash, sig.Nonce)
			if err != nil {
				return common.Address{}, err
			}
			addr, err := recoverSigner(hash, signature)
			if err != nil {
				continue
			}
			if addr == sig.EthAddress {
				return addr, nil
			}
		}
		return common.Address{}, fmt.Errorf("debugsig: no matching signatory")
	}()

	if err != nil {
		challenges, chErr := s.ChallengesList(coreType, debugCommandHash)
		if chErr != nil {
			return nil, chErr
		}
		return nil, coreerr.New(coreerr.KindValidationFailed, fmt.Sprintf("debugsig: signature did not match any signatory; challenges=%+v", challenges))
	}

	out := make([]Signatory, len(s.signatories))
	for i, sig := range s.signatories {
		if sig.EthAddress == recovered {
			out[i] = sig.incrementNonce()
		} else {
			out[i] = sig
		}
	}
	return New(out), nil
}
