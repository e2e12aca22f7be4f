package payroll

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vultisig/payroll/internal/types"
)

// PrependRecord returns a new ledger with record in front. The input ledger is
// left untouched. A ledger that already holds a confirmed record for the same
// hash is returned as is.
func PrependRecord(ledger types.Ledger, record types.TransactionRecord) types.Ledger {
	for _, existing := range ledger.Records {
		if existing.Hash == record.Hash && existing.Confirmed() {
			return ledger
		}
	}

	records := make([]types.TransactionRecord, 0, len(ledger.Records)+1)
	records = append(records, record)
	records = append(records, ledger.Records...)
	return types.Ledger{
		Version: ledger.Version + 1,
		Records: records,
	}
}

// MergeHistory reconciles a freshly reconstructed history with the ledger.
//
// Confirmed records replace whatever the ledger held for the same hash. Local
// records not seen on chain are kept: optimistic entries may still be pending,
// and confirmed entries may have aged out of the lookback window. The result
// is ordered by SortRecords.
func MergeHistory(ledger types.Ledger, confirmed []types.TransactionRecord) types.Ledger {
	seen := make(map[common.Hash]struct{}, len(confirmed))
	records := make([]types.TransactionRecord, 0, len(ledger.Records)+len(confirmed))
	for _, record := range confirmed {
		seen[record.Hash] = struct{}{}
		records = append(records, record)
	}
	for _, record := range ledger.Records {
		if _, ok := seen[record.Hash]; ok {
			continue
		}
		records = append(records, record)
	}

	SortRecords(records)
	return types.Ledger{
		Version: ledger.Version + 1,
		Records: records,
	}
}

// SortRecords orders records newest first. Two confirmed records compare by
// block number; any other pair compares by occurredAt, with the unconfirmed
// record first on a tie. Ties between equals keep their relative order.
func SortRecords(records []types.TransactionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Confirmed() && b.Confirmed() {
			return *a.BlockNumber > *b.BlockNumber
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return !a.Confirmed() && b.Confirmed()
	})
}
