// Package utxo implements the persistent UTXO ledger (C2): an on-disk
// singly-linked list of BTC UTXOs with head/tail pointers, a monotonic
// nonce, and a total-balance accumulator, per spec.md §3/§4.2.
package utxo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/proofcastlabs/bridge-enclave/internal/btcdeposit"
	"github.com/proofcastlabs/bridge-enclave/internal/coreerr"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

// Entry is a single persisted UTXO, keyed by sha256d(le64(nonce)) at
// insertion time. NextPointer is the key of the successor entry, or nil
// for the tail.
type Entry struct {
	RawTx       []byte           `json:"raw_tx"`
	TxID        chainhash.Hash   `json:"txid"`
	Vout        uint32           `json:"vout"`
	ValueSats   int64            `json:"value_sats"`
	NextPointer *[32]byte        `json:"next_pointer,omitempty"`
	DepositInfo *btcdeposit.Info `json:"deposit_info,omitempty"`
	Extra       []byte           `json:"extra,omitempty"`
}

// Key layout, matching the "32-byte prefixed deterministic hash" scheme of
// spec.md §6: each pointer/accumulator key is sha256d of its name.
var (
	keyUTXOFirst   = chainhash.DoubleHashB([]byte("UTXO_FIRST"))
	keyUTXOLast    = chainhash.DoubleHashB([]byte("UTXO_LAST"))
	keyUTXONonce   = chainhash.DoubleHashB([]byte("UTXO_NONCE"))
	keyUTXOBalance = chainhash.DoubleHashB([]byte("UTXO_BALANCE"))
)

// Ledger provides the operations of spec.md §4.2 over a kv.Tx. A fresh
// Ledger must be constructed per-transaction, matching the teacher's
// LedgerStore(kv) shape in pkg/ledger/store.go.
type Ledger struct {
	tx kv.Tx
}

// New wraps an in-flight transaction with ledger operations.
func New(tx kv.Tx) *Ledger { return &Ledger{tx: tx} }

func entryKey(nonce uint64) [32]byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, nonce)
	return chainhash.DoubleHashH(b)
}

func (l *Ledger) getNonce() (uint64, error) {
	b, err := l.tx.Get(keyUTXONonce, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		// DN-5a: a missing nonce key is treated as 0, not an error.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("utxo: corrupt nonce value")
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (l *Ledger) setNonce(n uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return l.tx.Put(keyUTXONonce, b, kv.SensitivityMin)
}

func (l *Ledger) getBalance() (uint64, error) {
	b, err := l.tx.Get(keyUTXOBalance, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("utxo: corrupt balance value")
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (l *Ledger) setBalance(v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return l.tx.Put(keyUTXOBalance, b, kv.SensitivityMin)
}

func (l *Ledger) getPointer(key []byte) (*[32]byte, error) {
	b, err := l.tx.Get(key, kv.SensitivityMin)
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("utxo: corrupt pointer value")
	}
	var h [32]byte
	copy(h[:], b)
	return &h, nil
}

func (l *Ledger) setPointer(key []byte, val *[32]byte) error {
	if val == nil {
		return l.tx.Delete(key)
	}
	return l.tx.Put(key, val[:], kv.SensitivityMin)
}

func (l *Ledger) loadEntry(key [32]byte) (*Entry, error) {
	b, err := l.tx.Get(key[:], kv.SensitivityMin)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("utxo: unmarshal entry: %w", err)
	}
	return &e, nil
}

func (l *Ledger) storeEntry(key [32]byte, e *Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("utxo: marshal entry: %w", err)
	}
	return l.tx.Put(key[:], b, kv.SensitivityMin)
}

// Exists performs a non-destructive linear scan for (txid, vout).
func (l *Ledger) Exists(txid chainhash.Hash, vout uint32) (bool, error) {
	head, err := l.getPointer(keyUTXOFirst)
	if err != nil {
		return false, err
	}
	for head != nil {
		e, err := l.loadEntry(*head)
		if err != nil {
			return false, err
		}
		if e.TxID == txid && e.Vout == vout {
			return true, nil
		}
		head = e.NextPointer
	}
	return false, nil
}

// AllKeys walks head-to-tail and returns every reachable entry's key.
func (l *Ledger) AllKeys() ([][32]byte, error) {
	var keys [][32]byte
	head, err := l.getPointer(keyUTXOFirst)
	if err != nil {
		return nil, err
	}
	for head != nil {
		keys = append(keys, *head)
		e, err := l.loadEntry(*head)
		if err != nil {
			return nil, err
		}
		head = e.NextPointer
	}
	return keys, nil
}

// Insert appends a UTXO to the tail. Duplicate (txid, vout) pairs are a
// no-op, per spec.md §4.2 and Testable Properties scenario 2.
func (l *Ledger) Insert(e *Entry) error {
	exists, err := l.Exists(e.TxID, e.Vout)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	nonce, err := l.getNonce()
	if err != nil {
		return err
	}
	key := entryKey(nonce + 1)

	stored := *e
	stored.NextPointer = nil
	if err := l.storeEntry(key, &stored); err != nil {
		return err
	}

	balance, err := l.getBalance()
	if err != nil {
		return err
	}

	if balance == 0 {
		if err := l.setPointer(keyUTXOFirst, &key); err != nil {
			return err
		}
		if err := l.setPointer(keyUTXOLast, &key); err != nil {
			return err
		}
		if err := l.setBalance(uint64(e.ValueSats)); err != nil {
			return err
		}
	} else {
		tailKey, err := l.getPointer(keyUTXOLast)
		if err != nil {
			return err
		}
		if tailKey == nil {
			return coreerr.New(coreerr.KindMissingState, "utxo: tail pointer missing with non-zero balance")
		}
		tail, err := l.loadEntry(*tailKey)
		if err != nil {
			return err
		}
		tail.NextPointer = &key
		if err := l.storeEntry(*tailKey, tail); err != nil {
			return err
		}
		if err := l.setPointer(keyUTXOLast, &key); err != nil {
			return err
		}
		newBalance := balance + uint64(e.ValueSats)
		if newBalance < balance {
			return coreerr.New(coreerr.KindUnderflow, "utxo: balance overflow on insert")
		}
		if err := l.setBalance(newBalance); err != nil {
			return err
		}
	}

	return l.setNonce(nonce + 1)
}

// PopHead removes and returns the oldest reachable entry.
func (l *Ledger) PopHead() (*Entry, error) {
	head, err := l.getPointer(keyUTXOFirst)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, coreerr.New(coreerr.KindMissingState, "utxo: ledger empty")
	}
	e, err := l.loadEntry(*head)
	if err != nil {
		return nil, err
	}

	balance, err := l.getBalance()
	if err != nil {
		return nil, err
	}

	if e.NextPointer == nil {
		if err := l.setBalance(0); err != nil {
			return nil, err
		}
		if err := l.tx.Delete(head[:]); err != nil {
			return nil, err
		}
		if err := l.setPointer(keyUTXOFirst, nil); err != nil {
			return nil, err
		}
		if err := l.setPointer(keyUTXOLast, nil); err != nil {
			return nil, err
		}
		return e, nil
	}

	if uint64(e.ValueSats) > balance {
		return nil, coreerr.New(coreerr.KindUnderflow, "utxo: balance underflow on pop")
	}
	if err := l.setBalance(balance - uint64(e.ValueSats)); err != nil {
		return nil, err
	}
	if err := l.tx.Delete(head[:]); err != nil {
		return nil, err
	}
	if err := l.setPointer(keyUTXOFirst, e.NextPointer); err != nil {
		return nil, err
	}
	return e, nil
}

// Take pops n entries in order. It fails without mutating state if fewer
// than n entries exist.
func (l *Ledger) Take(n int) ([]*Entry, error) {
	keys, err := l.AllKeys()
	if err != nil {
		return nil, err
	}
	if len(keys) < n {
		return nil, coreerr.New(coreerr.KindMissingState, fmt.Sprintf("utxo: requested %d entries, only %d available", n, len(keys)))
	}
	out := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := l.PopHead()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FindAndTake traverses head-to-tail for (txid, vout). Entries scanned
// past before the match are re-inserted at the tail, order-preserving,
// with their next pointers cleared — the reorder side effect documented
// in DN-1. Preserved verbatim for persisted-state compatibility.
func (l *Ledger) FindAndTake(txid chainhash.Hash, vout uint32) (*Entry, error) {
	var skipped []*Entry
	head, err := l.getPointer(keyUTXOFirst)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, coreerr.New(coreerr.KindMissingState, "utxo: ledger empty")
	}

	for head != nil {
		e, err := l.PopHead()
		if err != nil {
			return nil, err
		}
		if e.TxID == txid && e.Vout == vout {
			for _, s := range skipped {
				s.NextPointer = nil
				if err := l.Insert(s); err != nil {
					return nil, err
				}
			}
			return e, nil
		}
		skipped = append(skipped, e)
		head, err = l.getPointer(keyUTXOFirst)
		if err != nil {
			return nil, err
		}
	}

	// Not found: restore everything we popped, in original order.
	for _, s := range skipped {
		s.NextPointer = nil
		if err := l.Insert(s); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("utxo: (txid=%s, vout=%d) not found", txid, vout)
}

// Balance returns the ledger's total-balance accumulator.
func (l *Ledger) Balance() (uint64, error) { return l.getBalance() }
