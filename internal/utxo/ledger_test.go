package utxo

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

func sampleEntry(txidByte byte, vout uint32, value int64) *Entry {
	var h chainhash.Hash
	h[0] = txidByte
	return &Entry{RawTx: []byte{0x01}, TxID: h, Vout: vout, ValueSats: value}
}

func newLedger(t *testing.T) (*Ledger, kv.Tx) {
	t.Helper()
	store := kv.NewMemStore()
	tx, err := store.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return New(tx), tx
}

func TestInsertAccumulatesBalance(t *testing.T) {
	l, _ := newLedger(t)

	if err := l.Insert(sampleEntry(1, 0, 1000)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := l.Insert(sampleEntry(2, 0, 2000)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	balance, err := l.Balance()
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 3000 {
		t.Fatalf("got balance %d, want 3000", balance)
	}
}

func TestInsertDuplicateIsNoOp(t *testing.T) {
	l, _ := newLedger(t)

	e := sampleEntry(1, 0, 1000)
	if err := l.Insert(e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := l.Insert(e); err != nil {
		t.Fatalf("Insert (dup): %v", err)
	}

	keys, err := l.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d entries, want 1 (duplicate insert must be a no-op)", len(keys))
	}
}

func TestPopHeadReturnsFIFOOrder(t *testing.T) {
	l, _ := newLedger(t)

	_ = l.Insert(sampleEntry(1, 0, 1000))
	_ = l.Insert(sampleEntry(2, 0, 2000))

	first, err := l.PopHead()
	if err != nil {
		t.Fatalf("PopHead: %v", err)
	}
	if first.TxID[0] != 1 {
		t.Fatalf("got first txid byte %d, want 1", first.TxID[0])
	}

	balance, err := l.Balance()
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 2000 {
		t.Fatalf("got balance %d, want 2000", balance)
	}
}

func TestPopHeadOnEmptyLedgerFails(t *testing.T) {
	l, _ := newLedger(t)
	if _, err := l.PopHead(); err == nil {
		t.Fatal("expected error popping from empty ledger")
	}
}

func TestTakeFailsWithoutMutatingWhenNotEnoughEntries(t *testing.T) {
	l, _ := newLedger(t)
	_ = l.Insert(sampleEntry(1, 0, 1000))

	if _, err := l.Take(2); err == nil {
		t.Fatal("expected error requesting more entries than available")
	}

	keys, err := l.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("Take should not mutate state on failure, got %d entries", len(keys))
	}
}

func TestFindAndTakePreservesOrderOfSkippedEntries(t *testing.T) {
	l, _ := newLedger(t)
	_ = l.Insert(sampleEntry(1, 0, 1000))
	_ = l.Insert(sampleEntry(2, 0, 2000))
	_ = l.Insert(sampleEntry(3, 0, 3000))

	found, err := l.FindAndTake(chainhash.Hash{2}, 0)
	if err != nil {
		t.Fatalf("FindAndTake: %v", err)
	}
	if found.TxID[0] != 2 {
		t.Fatalf("got txid byte %d, want 2", found.TxID[0])
	}

	keys, err := l.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d remaining entries, want 2", len(keys))
	}

	exists1, err := l.Exists(chainhash.Hash{1}, 0)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	exists3, err := l.Exists(chainhash.Hash{3}, 0)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists1 || !exists3 {
		t.Fatal("expected the two non-matching entries to remain")
	}
}

func TestFindAndTakeRestoresOrderWhenNotFound(t *testing.T) {
	l, _ := newLedger(t)
	_ = l.Insert(sampleEntry(1, 0, 1000))
	_ = l.Insert(sampleEntry(2, 0, 2000))

	if _, err := l.FindAndTake(chainhash.Hash{9}, 0); err == nil {
		t.Fatal("expected not-found error")
	}

	balance, err := l.Balance()
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 3000 {
		t.Fatalf("got balance %d after restore, want 3000", balance)
	}
}
