package dictionary

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/proofcastlabs/bridge-enclave/internal/kv"
)

func sampleEntry() Entry {
	return Entry{
		PeerTokenDecimals: 4,
		EthTokenDecimals:  18,
		PeerSymbol:        "eos",
		EthSymbol:         "PEOS",
		PeerAddress:       "peostoken",
		EthAddress:        common.HexToAddress("0x00000000000000000000000000000000000001"),
		AccruedFees:       big.NewInt(0),
	}
}

func TestConvertPeerAssetToEthAmountAndBack(t *testing.T) {
	e := sampleEntry()
	amount, err := e.ConvertPeerAssetToEthAmount("1.5000 EOS")
	if err != nil {
		t.Fatalf("ConvertPeerAssetToEthAmount: %v", err)
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if amount.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", amount, want)
	}

	back, err := e.ConvertEthAmountToPeerAssetString(amount)
	if err != nil {
		t.Fatalf("ConvertEthAmountToPeerAssetString: %v", err)
	}
	if back != "1.5000 EOS" {
		t.Fatalf("got %q, want %q", back, "1.5000 EOS")
	}
}

func TestConvertPeerAssetToEthAmountRejectsWrongDecimals(t *testing.T) {
	e := sampleEntry()
	if _, err := e.ConvertPeerAssetToEthAmount("1.5 EOS"); err == nil {
		t.Fatal("expected error for mismatched decimals, got nil")
	}
}

func TestIncrementAccruedFeeSkipsZero(t *testing.T) {
	d := New([]Entry{sampleEntry()})
	same, err := d.IncrementAccruedFee(sampleEntry().EthAddress, big.NewInt(0))
	if err != nil {
		t.Fatalf("IncrementAccruedFee: %v", err)
	}
	if same != d {
		t.Fatal("expected zero increment to return same dictionary instance")
	}
}

func TestIncrementAndWithdrawFees(t *testing.T) {
	d := New([]Entry{sampleEntry()})
	addr := sampleEntry().EthAddress

	d2, err := d.IncrementAccruedFee(addr, big.NewInt(500))
	if err != nil {
		t.Fatalf("IncrementAccruedFee: %v", err)
	}
	entry, err := d2.GetByEthAddress(addr)
	if err != nil {
		t.Fatalf("GetByEthAddress: %v", err)
	}
	if entry.AccruedFees.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("got accrued %s, want 500", entry.AccruedFees)
	}

	d3, withdrawn, err := d2.WithdrawFees(addr, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("WithdrawFees: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("got withdrawn %s, want 500", withdrawn)
	}
	entry3, err := d3.GetByEthAddress(addr)
	if err != nil {
		t.Fatalf("GetByEthAddress: %v", err)
	}
	if entry3.AccruedFees.Sign() != 0 {
		t.Fatalf("expected zeroed accrued fees, got %s", entry3.AccruedFees)
	}
	if entry3.LastWithdrawal != 1700000000 {
		t.Fatalf("got last withdrawal %d, want 1700000000", entry3.LastWithdrawal)
	}
}

func TestConvertEthAmountToPeerAmountNarrowsDecimalsAndBack(t *testing.T) {
	e := sampleEntry()
	e.PeerTokenDecimals = 6
	e.EthTokenDecimals = 18
	amount, _ := new(big.Int).SetString("1500000000000000000", 10) // 1.5 at 18 decimals
	got := e.ConvertEthAmountToPeerAmount(amount)
	want := big.NewInt(1500000) // 1.5 at 6 decimals
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}

	back := e.ConvertPeerAmountToEthAmount(got)
	if back.Cmp(amount) != 0 {
		t.Fatalf("got %s, want %s", back, amount)
	}
}

func TestConvertEthAmountToPeerAmountSameDecimalsIsIdentity(t *testing.T) {
	e := sampleEntry()
	e.PeerTokenDecimals = 18
	e.EthTokenDecimals = 18
	amount := big.NewInt(42)
	got := e.ConvertEthAmountToPeerAmount(amount)
	if got.Cmp(amount) != 0 {
		t.Fatalf("got %s, want %s", got, amount)
	}
	if got == amount {
		t.Fatal("expected a copy, not the same *big.Int")
	}
}

func TestLoadMissingKeyYieldsEmptyDictionary(t *testing.T) {
	// A transaction with nothing stored under the key loads as an empty
	// dictionary rather than an error.
	tx, err := kv.NewMemStore().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	d, err := Load(tx, []byte("DICTIONARY"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Entries()) != 0 {
		t.Fatalf("expected empty dictionary, got %d entries", len(d.Entries()))
	}
}
