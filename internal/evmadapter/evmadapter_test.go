package evmadapter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/proofcastlabs/bridge-enclave/internal/dictionary"
	"github.com/proofcastlabs/bridge-enclave/internal/ethsubmission"
)

func TestValidateHeaderRejectsWrongChainID(t *testing.T) {
	a := New(big.NewInt(1))
	err := a.ValidateHeader(&ethsubmission.Material{}, big.NewInt(2))
	if err == nil {
		t.Fatal("expected chain id mismatch error, got nil")
	}
}

func TestExtractEventsDecodesPegIn(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	dict := dictionary.New([]dictionary.Entry{{EthAddress: token}})

	dest := common.HexToAddress("0x2222222222222222222222222222222222222222")
	var data []byte
	amount := big.NewInt(500)
	amountBytes := make([]byte, 32)
	amount.FillBytes(amountBytes)
	data = append(data, amountBytes...)
	destBytes := make([]byte, 32)
	copy(destBytes[12:], dest.Bytes())
	data = append(data, destBytes...)

	logEntry := &types.Log{
		Topics: []common.Hash{PegInTopic, common.BytesToHash(token.Bytes())},
		Data:   data,
	}
	material := &ethsubmission.Material{Receipts: []*types.Receipt{{Logs: []*types.Log{logEntry}}}}

	a := New(big.NewInt(1))
	events, err := a.ExtractEvents(material, dict)
	if err != nil {
		t.Fatalf("ExtractEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Amount.Cmp(amount) != 0 {
		t.Fatalf("got amount %s, want %s", events[0].Amount, amount)
	}
	if events[0].DestinationAccount != dest.Hex() {
		t.Fatalf("got destination %s, want %s", events[0].DestinationAccount, dest.Hex())
	}
}

func TestExtractEventsSkipsUnrecognizedToken(t *testing.T) {
	dict := dictionary.New(nil)
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data := make([]byte, 64)

	logEntry := &types.Log{
		Topics: []common.Hash{PegInTopic, common.BytesToHash(token.Bytes())},
		Data:   data,
	}
	material := &ethsubmission.Material{Receipts: []*types.Receipt{{Logs: []*types.Log{logEntry}}}}

	a := New(big.NewInt(1))
	if _, err := a.ExtractEvents(material, dict); err == nil {
		t.Fatal("expected unrecognized token error, got nil")
	}
}

func TestSignEgressProducesRecoverableSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	a := New(big.NewInt(1))
	sig, err := a.SignEgress("0x3333333333333333333333333333333333333333", big.NewInt(42), 7, crypto.FromECDSA(key))
	if err != nil {
		t.Fatalf("SignEgress: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("got signature length %d, want 65", len(sig))
	}
}
