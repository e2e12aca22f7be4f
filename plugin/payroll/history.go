package payroll

import (
	"context"
	"fmt"
	"math/big"
	"time"

	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vultisig/payroll/internal/types"
)

// HistoryResult is the outcome of one reconstruction pass over [From, To].
// Partial is nil when every query and event was processed.
type HistoryResult struct {
	Records []types.TransactionRecord
	From    uint64
	To      uint64
	Partial *PartialHistoryFetchError
}

// ReconstructHistory rebuilds confirmed records from the custody program's
// events in the last lookback blocks, newest block first.
//
// Only a failure to read the chain height is fatal. A failed query or an event
// that cannot be decoded or dated is logged and skipped; the result then
// carries a PartialHistoryFetchError describing what was lost.
func ReconstructHistory(ctx context.Context, chain ChainClient, custody *Custody, lookback uint64, logger logrus.FieldLogger) (HistoryResult, error) {
	head, err := chain.BlockNumber(ctx)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("failed to get block number: %w", err)
	}

	from := uint64(0)
	if head > lookback {
		from = head - lookback
	}
	logger = logger.WithFields(logrus.Fields{
		"from_block": from,
		"to_block":   head,
	})

	var (
		deposits, disbursements     []gtypes.Log
		depositErr, disbursementErr error
		g                           errgroup.Group
	)
	g.Go(func() error {
		deposits, depositErr = queryEvents(ctx, chain, custody, EventFundsDeposited, from, head)
		return nil
	})
	g.Go(func() error {
		disbursements, disbursementErr = queryEvents(ctx, chain, custody, EventPaymentDisbursed, from, head)
		return nil
	})
	_ = g.Wait()

	partial := &PartialHistoryFetchError{}
	for _, queryErr := range []error{depositErr, disbursementErr} {
		if queryErr != nil {
			logger.WithError(queryErr).Warn("history query failed")
			partial.Errs = append(partial.Errs, queryErr)
		}
	}

	b := &historyBuilder{
		ctx:     ctx,
		chain:   chain,
		custody: custody,
		logger:  logger,
		times:   make(map[uint64]time.Time),
		partial: partial,
	}
	for _, log := range deposits {
		b.add(log, b.deposit)
	}
	for _, log := range disbursements {
		b.add(log, b.disbursement)
	}

	SortRecords(b.records)

	result := HistoryResult{
		Records: b.records,
		From:    from,
		To:      head,
	}
	if len(partial.Errs) > 0 {
		result.Partial = partial
	}
	return result, nil
}

type historyBuilder struct {
	ctx     context.Context
	chain   ChainClient
	custody *Custody
	logger  logrus.FieldLogger
	times   map[uint64]time.Time
	partial *PartialHistoryFetchError
	records []types.TransactionRecord
}

func (b *historyBuilder) add(log gtypes.Log, decode func(gtypes.Log) (types.TransactionRecord, error)) {
	if log.Removed {
		return
	}
	record, err := decode(log)
	if err == nil {
		record.OccurredAt, err = b.blockTime(log.BlockNumber)
	}
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"tx_hash": log.TxHash.Hex(),
			"block":   log.BlockNumber,
		}).Warn("skipping history event")
		b.partial.Skipped++
		b.partial.Errs = append(b.partial.Errs, err)
		return
	}

	block := log.BlockNumber
	record.Hash = log.TxHash
	record.BlockNumber = &block
	b.records = append(b.records, record)
}

func (b *historyBuilder) deposit(log gtypes.Log) (types.TransactionRecord, error) {
	ev, err := b.custody.DecodeDeposited(log)
	if err != nil {
		return types.TransactionRecord{}, err
	}
	return types.TransactionRecord{
		Kind:           types.KindDeposit,
		RecipientCount: 1,
		TotalAmount:    new(big.Int).Set(ev.Amount),
	}, nil
}

func (b *historyBuilder) disbursement(log gtypes.Log) (types.TransactionRecord, error) {
	ev, err := b.custody.DecodeDisbursed(log)
	if err != nil {
		return types.TransactionRecord{}, err
	}
	if len(ev.Recipients) == 0 {
		return types.TransactionRecord{}, fmt.Errorf("disbursement %s has no recipients", log.TxHash.Hex())
	}
	return types.TransactionRecord{
		Kind:           types.KindPayroll,
		RecipientCount: len(ev.Recipients),
		TotalAmount:    SumAmounts(ev.Amounts),
	}, nil
}

func (b *historyBuilder) blockTime(number uint64) (time.Time, error) {
	if t, ok := b.times[number]; ok {
		return t, nil
	}
	t, err := blockTime(b.ctx, b.chain, number)
	if err != nil {
		return time.Time{}, err
	}
	b.times[number] = t
	return t, nil
}
