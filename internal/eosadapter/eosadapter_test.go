package eosadapter

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
	"github.com/proofcastlabs/bridge-enclave/internal/incremerkle"
	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

func sampleDictionary() *dictionary.Dictionary {
	return dictionary.New([]dictionary.Entry{{
		PeerAddress:       "eospegaccount",
		PeerSymbol:        "eos",
		PeerTokenDecimals: 4,
		EthTokenDecimals:  18,
		EthAddress:        common.HexToAddress("0x00000000000000000000000000000000000e05"),
		AccruedFees:       big.NewInt(0),
	}})
}

func newTx(t *testing.T) kv.Tx {
	t.Helper()
	tx, err := kv.NewMemStore().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func TestValidateHeaderSeedsEmptyRingThenAdvances(t *testing.T) {
	tx := newTx(t)
	a := New(tx, "eospegaccount")

	m1 := &ethsubmission.Material{Hash: common.HexToHash("0x01"), BlockNumber: big.NewInt(1)}
	if err := a.ValidateHeader(m1, nil); err != nil {
		t.Fatalf("ValidateHeader (seed): %v", err)
	}

	ring, err := incremerkle.Load(tx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ring.LatestBlockNum() != 1 {
		t.Fatalf("got latest block num %d, want 1", ring.LatestBlockNum())
	}

	m2 := &ethsubmission.Material{Hash: common.HexToHash("0x02"), BlockNumber: big.NewInt(2)}
	if err := a.ValidateHeader(m2, nil); err != nil {
		t.Fatalf("ValidateHeader (advance): %v", err)
	}
	ring2, err := incremerkle.Load(tx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ring2.LatestBlockNum() != 2 {
		t.Fatalf("got latest block num %d, want 2", ring2.LatestBlockNum())
	}
}

func TestValidateHeaderRejectsNonAdvancingBlock(t *testing.T) {
	tx := newTx(t)
	a := New(tx, "eospegaccount")
	m1 := &ethsubmission.Material{Hash: common.HexToHash("0x01"), BlockNumber: big.NewInt(5)}
	if err := a.ValidateHeader(m1, nil); err != nil {
		t.Fatalf("ValidateHeader (seed): %v", err)
	}
	stale := &ethsubmission.Material{Hash: common.HexToHash("0x02"), BlockNumber: big.NewInt(5)}
	if err := a.ValidateHeader(stale, nil); err == nil {
		t.Fatal("expected error for a block that does not advance the ring tip")
	}
}

func TestExtractEventsConvertsEosAssetToWei(t *testing.T) {
	tx := newTx(t)
	a := New(tx, "eospegaccount")

	pegin := PegIn{
		Asset:                 "1.5000 EOS",
		EthDestinationAccount: common.HexToAddress("0x3333333333333333333333333333333333333333").Hex(),
		OriginAccount:         "alice",
	}
	data, err := json.Marshal(pegin)
	if err != nil {
		t.Fatalf("marshal pegin: %v", err)
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
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if events[0].Amount.Cmp(want) != 0 {
		t.Fatalf("got amount %s, want %s", events[0].Amount, want)
	}
	if events[0].OriginAccount != "alice" {
		t.Fatalf("got origin %q, want %q", events[0].OriginAccount, "alice")
	}
}

func TestSignEgressProducesSignature(t *testing.T) {
	tx := newTx(t)
	a := New(tx, "eospegaccount")
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig, err := a.SignEgress("0x3333333333333333333333333333333333333333", big.NewInt(1000), 0, crypto.FromECDSA(key))
	if err != nil {
		t.Fatalf("SignEgress: %v", err)
	}
	if len(sig) == 0 {
		t.Fatal("expected non-empty signature")
	}
}
