package ethsubmission

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func sampleReceipts() []*types.Receipt {
	return []*types.Receipt{
		{
			Type:              types.LegacyTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21000,
			Logs: []*types.Log{
				{Address: common.HexToAddress("0x1111111111111111111111111111111111111111")},
			},
		},
		{
			Type:              types.LegacyTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 42000,
			Logs: []*types.Log{
				{Address: common.HexToAddress("0x2222222222222222222222222222222222222222")},
			},
		},
	}
}

func TestReceiptsAreValidAcceptsCorrectRoot(t *testing.T) {
	receipts := sampleReceipts()
	m := &Material{
		Receipts:     receipts,
		ReceiptsRoot: ReceiptsRoot(receipts),
		BlockNumber:  big.NewInt(100),
	}
	ok, err := m.ReceiptsAreValid()
	if err != nil {
		t.Fatalf("ReceiptsAreValid: %v", err)
	}
	if !ok {
		t.Fatal("expected receipts root to validate")
	}
}

func TestReceiptsAreValidRejectsTamperedRoot(t *testing.T) {
	receipts := sampleReceipts()
	m := &Material{
		Receipts:     receipts,
		ReceiptsRoot: common.HexToHash("0xdeadbeef"),
	}
	ok, err := m.ReceiptsAreValid()
	if err != nil {
		t.Fatalf("ReceiptsAreValid: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched receipts root to be rejected")
	}
}

func TestRemoveReceiptsNotFromAddressesFiltersLogs(t *testing.T) {
	receipts := sampleReceipts()
	m := &Material{Receipts: receipts}
	filtered := m.RemoveReceiptsNotFromAddresses([]common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
	})
	if filtered.NumReceipts() != 1 {
		t.Fatalf("got %d receipts, want 1", filtered.NumReceipts())
	}
}

func TestKeepOnlyReceiptsWithLogFromAddressAndTopicMatchesBoth(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic := common.HexToHash("0xaaaa")
	receipts := []*types.Receipt{
		{
			Logs: []*types.Log{
				{Address: addr, Topics: []common.Hash{topic}},
			},
		},
		{
			// Right address, wrong topic.
			Logs: []*types.Log{
				{Address: addr, Topics: []common.Hash{common.HexToHash("0xbbbb")}},
			},
		},
		{
			// Right topic, wrong address.
			Logs: []*types.Log{
				{Address: common.HexToAddress("0x2222222222222222222222222222222222222222"), Topics: []common.Hash{topic}},
			},
		},
	}
	m := &Material{Receipts: receipts}
	filtered := m.KeepOnlyReceiptsWithLogFromAddressAndTopic(addr, topic)
	if filtered.NumReceipts() != 1 {
		t.Fatalf("got %d receipts, want 1", filtered.NumReceipts())
	}
	if m.NumReceipts() != 3 {
		t.Fatal("expected original material to be unaffected by filtering copies")
	}
}

func TestRemoveBlockAndReceiptsClearFields(t *testing.T) {
	m := &Material{Block: &types.Header{}, Receipts: sampleReceipts()}
	trimmed := m.RemoveBlock().RemoveReceipts()
	if trimmed.Block != nil {
		t.Fatal("expected block to be nil")
	}
	if trimmed.NumReceipts() != 0 {
		t.Fatal("expected receipts to be empty")
	}
	// Original must be untouched (copy semantics).
	if m.Block == nil || m.NumReceipts() == 0 {
		t.Fatal("expected original material to be unaffected by trimming copies")
	}
}
