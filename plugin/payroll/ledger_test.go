package payroll

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/payroll/internal/types"
)

func confirmedRecord(hash string, block uint64, amount int64) types.TransactionRecord {
	return types.TransactionRecord{
		Kind:           types.KindPayroll,
		RecipientCount: 1,
		TotalAmount:    tokens(amount),
		OccurredAt:     time.Unix(int64(block), 0),
		Hash:           common.HexToHash(hash),
		BlockNumber:    &block,
	}
}

func optimisticRecord(hash string, at time.Time, amount int64) types.TransactionRecord {
	return types.TransactionRecord{
		Kind:           types.KindPayroll,
		RecipientCount: 2,
		TotalAmount:    tokens(amount),
		OccurredAt:     at,
		Hash:           common.HexToHash(hash),
	}
}

func blocks(records []types.TransactionRecord) []uint64 {
	out := make([]uint64, 0, len(records))
	for _, r := range records {
		if r.BlockNumber != nil {
			out = append(out, *r.BlockNumber)
		}
	}
	return out
}

func TestPrependRecord(t *testing.T) {
	base := types.Ledger{Version: 3, Records: []types.TransactionRecord{confirmedRecord("0x01", 10, 1)}}

	next := PrependRecord(base, optimisticRecord("0x02", time.Now(), 5))

	assert.Equal(t, uint64(4), next.Version)
	require.Len(t, next.Records, 2)
	assert.Equal(t, common.HexToHash("0x02"), next.Records[0].Hash)
	// input snapshot untouched
	assert.Equal(t, uint64(3), base.Version)
	assert.Len(t, base.Records, 1)
}

func TestPrependRecord_SkipsConfirmedHash(t *testing.T) {
	base := types.Ledger{Version: 2, Records: []types.TransactionRecord{confirmedRecord("0x02", 10, 5)}}

	next := PrependRecord(base, optimisticRecord("0x02", time.Now(), 5))
	assert.Equal(t, uint64(2), next.Version)
	require.Len(t, next.Records, 1)
	assert.True(t, next.Records[0].Confirmed())
}

func TestMergeHistory_Reconciles(t *testing.T) {
	now := time.Now()
	ledger := types.Ledger{Records: []types.TransactionRecord{optimisticRecord("0xaa", now, 7)}}

	merged := MergeHistory(ledger, []types.TransactionRecord{confirmedRecord("0xaa", 42, 7)})

	require.Len(t, merged.Records, 1)
	require.NotNil(t, merged.Records[0].BlockNumber)
	assert.Equal(t, uint64(42), *merged.Records[0].BlockNumber)
	assert.Equal(t, uint64(1), merged.Version)
}

func TestMergeHistory_KeepsUnconfirmed(t *testing.T) {
	now := time.Now()
	ledger := types.Ledger{Records: []types.TransactionRecord{
		optimisticRecord("0xbb", now, 2),
		optimisticRecord("0xaa", now.Add(-time.Minute), 1),
		confirmedRecord("0x05", 5, 1),
	}}

	merged := MergeHistory(ledger, []types.TransactionRecord{
		confirmedRecord("0x10", 10, 1),
		confirmedRecord("0x30", 30, 1),
		confirmedRecord("0x20", 20, 1),
	})

	require.Len(t, merged.Records, 6)
	assert.Equal(t, common.HexToHash("0xbb"), merged.Records[0].Hash)
	assert.Equal(t, common.HexToHash("0xaa"), merged.Records[1].Hash)
	assert.Equal(t, []uint64{30, 20, 10, 5}, blocks(merged.Records))
}

func TestMergeHistory_Idempotent(t *testing.T) {
	confirmed := []types.TransactionRecord{confirmedRecord("0x01", 1, 1), confirmedRecord("0x02", 2, 1)}

	once := MergeHistory(types.Ledger{}, confirmed)
	twice := MergeHistory(once, confirmed)

	assert.Len(t, twice.Records, 2)
	assert.Equal(t, blocks(once.Records), blocks(twice.Records))
}

func TestSortRecords(t *testing.T) {
	records := []types.TransactionRecord{
		confirmedRecord("0x10", 10, 1),
		confirmedRecord("0x30", 30, 1),
		confirmedRecord("0x20", 20, 1),
	}
	SortRecords(records)
	assert.Equal(t, []uint64{30, 20, 10}, blocks(records))

	tied := []types.TransactionRecord{
		confirmedRecord("0x01", 7, 1),
		confirmedRecord("0x02", 7, 2),
	}
	SortRecords(tied)
	assert.Equal(t, common.HexToHash("0x01"), tied[0].Hash)
	assertAmount(t, tokens(2), tied[1].TotalAmount)
}

func TestSortRecords_Mixed(t *testing.T) {
	records := []types.TransactionRecord{
		optimisticRecord("0xa1", time.Unix(20, 0), 1), // dropped long ago
		confirmedRecord("0x10", 10, 1),
		confirmedRecord("0x30", 30, 1),
		optimisticRecord("0xa2", time.Unix(40, 0), 1),
		optimisticRecord("0xa3", time.Unix(10, 0), 1),
	}
	SortRecords(records)

	got := make([]common.Hash, 0, len(records))
	for _, r := range records {
		got = append(got, r.Hash)
	}
	assert.Equal(t, []common.Hash{
		common.HexToHash("0xa2"),
		common.HexToHash("0x30"),
		common.HexToHash("0xa1"),
		common.HexToHash("0xa3"),
		common.HexToHash("0x10"),
	}, got)
}
