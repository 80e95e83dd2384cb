package btcadapter

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/btcdeposit"
	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
	"github.com/proofcastlabs/bridge-enclave/internal/utxo"
)

func mustPubKey() []byte {
	b := make([]byte, 33)
	b[0] = 0x02
	for i := 1; i < 33; i++ {
		b[i] = byte(i)
	}
	return b
}

// buildValidV0Deposit replicates btcdeposit's V0 commitment-hash/P2SH
// derivation (package-private there) so this adapter's tests can build
// a Deposit whose embedded Info passes Validate.
func buildValidV0Deposit(t *testing.T, nonce uint64, valueSats int64) Deposit {
	t.Helper()
	pubKey := mustPubKey()
	address := "1111111111111111111111111111111111111111"
	addrBytes, err := hex.DecodeString(address)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	nonceLE := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonceLE, nonce)
	commitment := chainhash.DoubleHashH(append(append([]byte{}, addrBytes...), nonceLE...))

	script, err := txscript.NewScriptBuilder().
		AddData(commitment[:]).
		AddOp(txscript.OP_DROP).
		AddData(pubKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		t.Fatalf("build redeem script: %v", err)
	}
	addr, err := btcutil.NewAddressScriptHash(script, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("NewAddressScriptHash: %v", err)
	}

	return Deposit{
		RawTx:     []byte{0x01, 0x02},
		TxID:      chainhash.Hash{byte(nonce)},
		Vout:      0,
		ValueSats: valueSats,
		PubKey:    pubKey,
		Info: btcdeposit.Info{
			Nonce:          nonce,
			Address:        "0x" + address,
			DepositAddress: addr.EncodeAddress(),
			CommitmentHash: commitment,
			Version:        btcdeposit.V0,
		},
		EthDestination: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
}

func sampleDictionary() *dictionary.Dictionary {
	return dictionary.New([]dictionary.Entry{{
		PeerAddress:       "BTC",
		PeerTokenDecimals: 8,
		EthTokenDecimals:  18,
		EthAddress:        common.HexToAddress("0x00000000000000000000000000000000000b7c"),
		AccruedFees:       big.NewInt(0),
	}})
}

func newLedgerAdapter(t *testing.T) (*Adapter, *utxo.Ledger) {
	t.Helper()
	store := kv.NewMemStore()
	tx, err := store.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ledger := utxo.New(tx)
	return New(ledger, &chaincfg.MainNetParams, btcdeposit.ChainIDRegistry{}, "BTC"), ledger
}

func TestExtractEventsInsertsUTXOAndEmitsPegEvent(t *testing.T) {
	a, ledger := newLedgerAdapter(t)
	dep := buildValidV0Deposit(t, 1, 100000000) // 1 BTC in sats

	data, err := json.Marshal(dep)
	if err != nil {
		t.Fatalf("marshal deposit: %v", err)
	}
	material := &ethsubmission.Material{
		Receipts: []*types.Receipt{{
			Logs: []*types.Log{{Topics: []common.Hash{PegInTopic}, Data: data}},
		}},
	}

	events, err := a.ExtractEvents(material, sampleDictionary())
	if err != nil {
		t.Fatalf("ExtractEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	want := big.NewInt(1000000000000000000) // 1 BTC widened from 8 to 18 decimals
	if events[0].Amount.Cmp(want) != 0 {
		t.Fatalf("got amount %s, want %s", events[0].Amount, want)
	}
	if events[0].DestinationAccount != dep.EthDestination.Hex() {
		t.Fatalf("got destination %s, want %s", events[0].DestinationAccount, dep.EthDestination.Hex())
	}

	balance, err := ledger.Balance()
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 100000000 {
		t.Fatalf("got ledger balance %d, want 100000000", balance)
	}

	// Re-extracting the same material must not double-insert or re-emit.
	events2, err := a.ExtractEvents(material, sampleDictionary())
	if err != nil {
		t.Fatalf("ExtractEvents (replay): %v", err)
	}
	if len(events2) != 0 {
		t.Fatalf("got %d events on replay, want 0 (duplicate utxo)", len(events2))
	}
}

func TestExtractEventsRejectsInvalidDepositAddress(t *testing.T) {
	a, _ := newLedgerAdapter(t)
	dep := buildValidV0Deposit(t, 1, 100000000)
	dep.Info.DepositAddress = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"

	data, _ := json.Marshal(dep)
	material := &ethsubmission.Material{
		Receipts: []*types.Receipt{{
			Logs: []*types.Log{{Topics: []common.Hash{PegInTopic}, Data: data}},
		}},
	}
	if _, err := a.ExtractEvents(material, sampleDictionary()); err == nil {
		t.Fatal("expected error for tampered deposit address")
	}
}

func TestSignEgressTakesUTXOsCoveringAmount(t *testing.T) {
	a, ledger := newLedgerAdapter(t)
	if err := ledger.Insert(&utxo.Entry{TxID: chainhash.Hash{1}, Vout: 0, ValueSats: 1000}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ledger.Insert(&utxo.Entry{TxID: chainhash.Hash{2}, Vout: 0, ValueSats: 2000}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	raw, err := a.SignEgress("0x2222222222222222222222222222222222222222", big.NewInt(1500), 0, crypto.FromECDSA(key))
	if err != nil {
		t.Fatalf("SignEgress: %v", err)
	}

	var out struct {
		Signature []byte        `json:"signature"`
		Inputs    []*utxo.Entry `json:"inputs"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(out.Inputs) != 2 {
		t.Fatalf("got %d inputs, want 2 (1000 alone is not enough to cover 1500)", len(out.Inputs))
	}

	balance, err := ledger.Balance()
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("got remaining balance %d, want 0 (both utxos spent)", balance)
	}
}

func TestSignEgressFailsWhenLedgerCannotCoverAmount(t *testing.T) {
	a, ledger := newLedgerAdapter(t)
	if err := ledger.Insert(&utxo.Entry{TxID: chainhash.Hash{1}, Vout: 0, ValueSats: 500}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	key, _ := crypto.GenerateKey()
	if _, err := a.SignEgress("0x2222222222222222222222222222222222222222", big.NewInt(1500), 0, crypto.FromECDSA(key)); err == nil {
		t.Fatal("expected error for insufficient utxos")
	}
}

func TestValidateHeaderIsNoOp(t *testing.T) {
	a := New(nil, &chaincfg.MainNetParams, btcdeposit.ChainIDRegistry{}, "BTC")
	m := &ethsubmission.Material{Block: &types.Header{}}
	if err := a.ValidateHeader(m, big.NewInt(1)); err != nil {
		t.Fatalf("ValidateHeader: %v", err)
	}
}
