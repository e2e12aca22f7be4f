package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit TransactionKind = "Deposit"
	KindPayroll TransactionKind = "Payroll"
)

// PayeeRecord is one row of the operator's roster. Rows are identified by
// their position in the roster only.
type PayeeRecord struct {
	Name       string          `json:"name"`
	Address    string          `json:"address"`
	FiatAmount decimal.Decimal `json:"fiat_amount"`
}

// DisbursementBatch is the validated, index-aligned input of a disperse call.
// Amounts are in token minor units (wei).
type DisbursementBatch struct {
	Names       []string
	Recipients  []common.Address
	Amounts     []*big.Int
	TotalAmount *big.Int
}

func (b DisbursementBatch) Len() int {
	return len(b.Recipients)
}

// ExchangeRate holds the fiat price of one whole token.
type ExchangeRate struct {
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
	Fallback  bool            `json:"fallback"`
}

// TransactionRecord is a unified ledger entry. BlockNumber is nil for
// optimistic records that have not been observed on chain yet.
type TransactionRecord struct {
	Kind           TransactionKind
	RecipientCount int
	TotalAmount    *big.Int
	OccurredAt     time.Time
	Hash           common.Hash
	BlockNumber    *uint64
}

func (r TransactionRecord) Confirmed() bool {
	return r.BlockNumber != nil
}

// Ledger is an immutable snapshot of the unified history, newest first.
type Ledger struct {
	Version uint64
	Records []TransactionRecord
}

// PoolState is an immutable snapshot of the custody program's holdings.
type PoolState struct {
	Balance   *big.Int
	UpdatedAt time.Time
}
