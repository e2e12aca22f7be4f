package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/payroll/internal/types"
	"github.com/vultisig/payroll/plugin/payroll"
)

// Orchestrator is the part of *payroll.Orchestrator the service drives.
type Orchestrator interface {
	Fund(ctx context.Context, amount *big.Int) (*payroll.Submission, error)
	Disburse(ctx context.Context, batch types.DisbursementBatch) (*payroll.Submission, error)
	Withdraw(ctx context.Context) (*payroll.Submission, error)
	RefreshPool(ctx context.Context) (types.PoolState, error)
	SyncHistory(ctx context.Context) (payroll.HistoryResult, error)
	Submission(hash common.Hash) (*payroll.Submission, bool)
	Owner(ctx context.Context) (common.Address, error)
	Operator() common.Address
	Ledger() types.Ledger
	Pool() types.PoolState
}

type Oracle interface {
	Rate(ctx context.Context) types.ExchangeRate
	Invalidate(ctx context.Context) error
}

// BatchPreview is a built batch with its fiat valuation at the rate used to
// build it.
type BatchPreview struct {
	Batch     types.DisbursementBatch
	Rate      types.ExchangeRate
	FiatTotal decimal.Decimal
}

// Summary aggregates the ledger.
type Summary struct {
	TotalDeposited  *big.Int
	TotalDisbursed  *big.Int
	DepositCount    int
	PayrollCount    int
	TotalRecipients int
	Pending         int
}

// PayrollService is the caller layer on top of the orchestrator. It admits at
// most one fund, disburse or withdraw in flight per kind and keeps the rate,
// pool and history fresh.
type PayrollService struct {
	cfg      *payroll.PluginConfig
	orch     Orchestrator
	oracle   Oracle
	sdClient statsd.ClientInterface
	logger   logrus.FieldLogger

	rate     atomic.Pointer[types.ExchangeRate]
	inFlight sync.Map // payroll.SubmissionKind -> *payroll.Submission, nil while submitting
}

func NewPayrollService(cfg *payroll.PluginConfig, orch Orchestrator, oracle Oracle, sdClient statsd.ClientInterface, logger logrus.FieldLogger) *PayrollService {
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	return &PayrollService{
		cfg:      cfg,
		orch:     orch,
		oracle:   oracle,
		sdClient: sdClient,
		logger:   logger.WithField("service", "payroll"),
	}
}

// Rate returns the last known exchange rate, fetching one if none is known.
func (s *PayrollService) Rate(ctx context.Context) types.ExchangeRate {
	if rate := s.rate.Load(); rate != nil {
		return *rate
	}
	return s.RefreshRate(ctx, false)
}

// RefreshRate fetches the exchange rate; force bypasses the shared cache.
func (s *PayrollService) RefreshRate(ctx context.Context, force bool) types.ExchangeRate {
	if force {
		if err := s.oracle.Invalidate(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to invalidate cached price")
		}
	}
	rate := s.oracle.Rate(ctx)
	s.rate.Store(&rate)
	if rate.Fallback {
		s.incCounter("payroll.rate.fallback", nil)
	}
	return rate
}

func (s *PayrollService) PreviewBatch(ctx context.Context, roster []types.PayeeRecord) (BatchPreview, error) {
	rate := s.Rate(ctx)
	batch, err := payroll.BuildBatch(roster, rate)
	if err != nil {
		return BatchPreview{}, err
	}
	fiat, err := payroll.TokenToFiat(batch.TotalAmount, rate)
	if err != nil {
		return BatchPreview{}, err
	}
	return BatchPreview{Batch: batch, Rate: rate, FiatTotal: fiat}, nil
}

func (s *PayrollService) Fund(ctx context.Context, amount *big.Int) (*payroll.Submission, error) {
	return s.track(payroll.SubmissionFund, func() (*payroll.Submission, error) {
		return s.orch.Fund(ctx, amount)
	})
}

// FundForRoster deposits exactly the token total the roster would disburse
// at the current rate.
func (s *PayrollService) FundForRoster(ctx context.Context, roster []types.PayeeRecord) (*payroll.Submission, BatchPreview, error) {
	preview, err := s.PreviewBatch(ctx, roster)
	if err != nil {
		s.incError(payroll.SubmissionFund, err)
		return nil, BatchPreview{}, err
	}
	sub, err := s.Fund(ctx, preview.Batch.TotalAmount)
	if err != nil {
		return nil, preview, err
	}
	return sub, preview, nil
}

// Disburse pays the roster at the current rate.
func (s *PayrollService) Disburse(ctx context.Context, roster []types.PayeeRecord) (*payroll.Submission, BatchPreview, error) {
	preview, err := s.PreviewBatch(ctx, roster)
	if err != nil {
		s.incError(payroll.SubmissionDisburse, err)
		return nil, BatchPreview{}, err
	}
	sub, err := s.track(payroll.SubmissionDisburse, func() (*payroll.Submission, error) {
		return s.orch.Disburse(ctx, preview.Batch)
	})
	if err != nil {
		return nil, preview, err
	}
	return sub, preview, nil
}

func (s *PayrollService) Withdraw(ctx context.Context) (*payroll.Submission, error) {
	return s.track(payroll.SubmissionWithdraw, func() (*payroll.Submission, error) {
		return s.orch.Withdraw(ctx)
	})
}

func (s *PayrollService) Submission(hash common.Hash) (*payroll.Submission, bool) {
	return s.orch.Submission(hash)
}

// InFlight reports whether an operation of kind is submitting or pending.
func (s *PayrollService) InFlight(kind payroll.SubmissionKind) bool {
	_, ok := s.inFlight.Load(kind)
	return ok
}

func (s *PayrollService) Pool(ctx context.Context, refresh bool) (types.PoolState, error) {
	if !refresh {
		return s.orch.Pool(), nil
	}
	return s.orch.RefreshPool(ctx)
}

func (s *PayrollService) Owner(ctx context.Context) (common.Address, error) {
	return s.orch.Owner(ctx)
}

func (s *PayrollService) Operator() common.Address {
	return s.orch.Operator()
}

// History returns the ledger, reconstructing it from chain events first when
// refresh is set. A partial reconstruction is reported alongside the merged
// ledger rather than as a failure.
func (s *PayrollService) History(ctx context.Context, refresh bool) (types.Ledger, *payroll.PartialHistoryFetchError, error) {
	if !refresh {
		return s.orch.Ledger(), nil, nil
	}
	result, err := s.syncHistory(ctx)
	if err != nil {
		return types.Ledger{}, nil, err
	}
	return s.orch.Ledger(), result.Partial, nil
}

func (s *PayrollService) Summary() Summary {
	summary := Summary{
		TotalDeposited: new(big.Int),
		TotalDisbursed: new(big.Int),
	}
	for _, record := range s.orch.Ledger().Records {
		if !record.Confirmed() {
			summary.Pending++
		}
		switch record.Kind {
		case types.KindDeposit:
			summary.DepositCount++
			summary.TotalDeposited.Add(summary.TotalDeposited, record.TotalAmount)
		case types.KindPayroll:
			summary.PayrollCount++
			summary.TotalRecipients += record.RecipientCount
			summary.TotalDisbursed.Add(summary.TotalDisbursed, record.TotalAmount)
		}
	}
	return summary
}

// Run keeps the rate, the pool and the history fresh until ctx is done.
func (s *PayrollService) Run(ctx context.Context) error {
	s.refresh(ctx)
	if _, err := s.syncHistory(ctx); err != nil {
		s.logger.WithError(err).Error("initial history sync failed")
	}

	refreshTicker := time.NewTicker(s.cfg.Monitoring.RefreshInterval)
	defer refreshTicker.Stop()
	syncTicker := time.NewTicker(s.cfg.History.SyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refreshTicker.C:
			s.refresh(ctx)
		case <-syncTicker.C:
			if _, err := s.syncHistory(ctx); err != nil {
				s.logger.WithError(err).Error("history sync failed")
			}
		}
	}
}

func (s *PayrollService) refresh(ctx context.Context) {
	s.RefreshRate(ctx, false)
	if _, err := s.orch.RefreshPool(ctx); err != nil {
		s.logger.WithError(err).Warn("pool refresh failed")
	}
}

func (s *PayrollService) syncHistory(ctx context.Context) (payroll.HistoryResult, error) {
	defer s.measureTime("payroll.history.latency", time.Now(), nil)

	result, err := s.orch.SyncHistory(ctx)
	if err != nil {
		s.incCounter("payroll.history.error", nil)
		return payroll.HistoryResult{}, err
	}
	if result.Partial != nil {
		s.incCounter("payroll.history.partial", nil)
		s.logger.WithField("skipped", result.Partial.Skipped).Warn("history partially reconstructed")
	}
	return result, nil
}

// track runs submit unless an operation of the same kind is still in flight,
// and holds the slot until the submission reaches a terminal state.
func (s *PayrollService) track(kind payroll.SubmissionKind, submit func() (*payroll.Submission, error)) (*payroll.Submission, error) {
	if _, busy := s.inFlight.LoadOrStore(kind, (*payroll.Submission)(nil)); busy {
		s.incError(kind, payroll.ErrOperationInFlight)
		return nil, fmt.Errorf("%w: %s", payroll.ErrOperationInFlight, kind)
	}

	defer s.measureTime("payroll."+string(kind)+".latency", time.Now(), nil)
	sub, err := submit()
	if err != nil {
		s.inFlight.Delete(kind)
		s.incError(kind, err)
		return nil, err
	}
	s.incCounter("payroll."+string(kind), nil)
	s.inFlight.Store(kind, sub)

	go func() {
		<-sub.Done()
		s.inFlight.Delete(kind)
		status := sub.Status()
		s.incCounter("payroll."+string(kind)+"."+string(status.State), nil)
	}()
	return sub, nil
}

func (s *PayrollService) incError(kind payroll.SubmissionKind, err error) {
	s.incCounter("payroll."+string(kind)+".error", []string{"code:" + payroll.Code(err)})
}

func (s *PayrollService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *PayrollService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}
