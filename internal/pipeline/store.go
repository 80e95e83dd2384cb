package pipeline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/coreerr"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

// Store namespaces the persisted pointers and block bodies of a single
// chain side under a chain prefix (e.g. "BTC", "EOS", "EVM:1"), all
// keyed as sha256d(prefix || "_" || name), matching spec.md §6's "32-byte
// prefixed deterministic hash" KV key scheme.
type Store struct {
	tx     kv.Tx
	prefix string
}

// NewStore wraps tx with the given chain prefix.
func NewStore(tx kv.Tx, prefix string) *Store { return &Store{tx: tx, prefix: prefix} }

func (s *Store) key(name string) []byte {
	h := chainhash.DoubleHashH([]byte(s.prefix + "_" + name))
	return h[:]
}

func (s *Store) getHash(name string) (common.Hash, bool, error) {
	b, err := s.tx.Get(s.key(name), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(b), true, nil
}

func (s *Store) setHash(name string, h common.Hash) error {
	return s.tx.Put(s.key(name), h.Bytes(), kv.SensitivityMin)
}

func (s *Store) LatestBlockHash() (common.Hash, bool, error) { return s.getHash("LATEST_BLOCK_HASH") }
func (s *Store) SetLatestBlockHash(h common.Hash) error      { return s.setHash("LATEST_BLOCK_HASH", h) }

func (s *Store) CanonBlockHash() (common.Hash, bool, error) { return s.getHash("CANON_BLOCK_HASH") }
func (s *Store) SetCanonBlockHash(h common.Hash) error      { return s.setHash("CANON_BLOCK_HASH", h) }

func (s *Store) AnchorBlockHash() (common.Hash, bool, error) { return s.getHash("ANCHOR_BLOCK_HASH") }
func (s *Store) SetAnchorBlockHash(h common.Hash) error      { return s.setHash("ANCHOR_BLOCK_HASH", h) }

func (s *Store) TailBlockHash() (common.Hash, bool, error) { return s.getHash("TAIL_BLOCK_HASH") }
func (s *Store) SetTailBlockHash(h common.Hash) error      { return s.setHash("TAIL_BLOCK_HASH", h) }

func (s *Store) LinkerHash() (common.Hash, bool, error) { return s.getHash("LINKER_HASH") }
func (s *Store) SetLinkerHash(h common.Hash) error      { return s.setHash("LINKER_HASH", h) }

func (s *Store) AccountNonce() (uint64, error) {
	b, err := s.tx.Get(s.key("ACCOUNT_NONCE"), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("pipeline: corrupt account nonce")
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Store) SetAccountNonce(n uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return s.tx.Put(s.key("ACCOUNT_NONCE"), b, kv.SensitivityMin)
}

func (s *Store) PrivateKey() ([]byte, error) {
	b, err := s.tx.Get(s.key("PRIVATE_KEY"), kv.SensitivityMax)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) SetPrivateKey(key []byte) error {
	return s.tx.Put(s.key("PRIVATE_KEY"), key, kv.SensitivityMax)
}

func (s *Store) PublicKey() ([]byte, error) {
	b, err := s.tx.Get(s.key("PUBLIC_KEY"), kv.SensitivityMin)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) SetPublicKey(key []byte) error {
	return s.tx.Put(s.key("PUBLIC_KEY"), key, kv.SensitivityMin)
}

func (s *Store) ChainID() (*big.Int, error) {
	b, err := s.tx.Get(s.key("CHAIN_ID"), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return nil, coreerr.New(coreerr.KindNotInitialized, "pipeline: chain id not set")
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (s *Store) SetChainID(id *big.Int) error {
	return s.tx.Put(s.key("CHAIN_ID"), id.Bytes(), kv.SensitivityMin)
}

func (s *Store) GasPrice() (*big.Int, error) {
	b, err := s.tx.Get(s.key("GAS_PRICE"), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (s *Store) SetGasPrice(p *big.Int) error {
	return s.tx.Put(s.key("GAS_PRICE"), p.Bytes(), kv.SensitivityMin)
}

func (s *Store) CanonToTipLength() (uint64, error) {
	b, err := s.tx.Get(s.key("CANON_TO_TIP_LENGTH"), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("pipeline: corrupt canon-to-tip length")
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Store) SetCanonToTipLength(n uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return s.tx.Put(s.key("CANON_TO_TIP_LENGTH"), b, kv.SensitivityMin)
}

func (s *Store) blockKey(hash common.Hash) []byte {
	h := chainhash.DoubleHashH(append([]byte(s.prefix+"_BLOCK_"), hash.Bytes()...))
	return h[:]
}

// PutBlock persists material under its own hash.
func (s *Store) PutBlock(material *ethsubmission.Material) error {
	b, err := json.Marshal(material)
	if err != nil {
		return fmt.Errorf("pipeline: marshal block: %w", err)
	}
	return s.tx.Put(s.blockKey(material.Hash), b, kv.SensitivityMin)
}

// GetBlock loads the material stored under hash.
func (s *Store) GetBlock(hash common.Hash) (*ethsubmission.Material, bool, error) {
	b, err := s.tx.Get(s.blockKey(hash), kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var m ethsubmission.Material
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false, fmt.Errorf("pipeline: unmarshal block: %w", err)
	}
	return &m, true, nil
}

// PruneReceipts replaces the stored block at hash with a receipts-free
// copy, keeping only the header summary, per spec.md §4.8 step 5/6's
// tail-pruning.
func (s *Store) PruneReceipts(hash common.Hash) error {
	m, ok, err := s.GetBlock(hash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.PutBlock(m.RemoveReceipts())
}
