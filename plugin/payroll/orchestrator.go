package payroll

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/payroll/internal/types"
)

var ErrOperationInFlight = errors.New("an operation of this kind is already in flight")

// Orchestrator submits fund and disburse transactions to the custody program
// and owns the in-memory ledger and pool snapshots. Snapshots are replaced,
// never mutated, so readers always see a consistent view.
type Orchestrator struct {
	cfg     *PluginConfig
	chain   ChainClient
	signer  Signer
	custody *Custody
	logger  logrus.FieldLogger
	now     func() time.Time

	ledger      atomic.Pointer[types.Ledger]
	pool        atomic.Pointer[types.PoolState]
	submissions sync.Map // common.Hash -> *Submission

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func NewOrchestrator(cfg *PluginConfig, chain ChainClient, signer Signer, custody *Custody, logger logrus.FieldLogger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		chain:    chain,
		signer:   signer,
		custody:  custody,
		logger:   logger.WithField("component", "orchestrator"),
		now:      time.Now,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
	o.ledger.Store(&types.Ledger{})
	o.pool.Store(&types.PoolState{Balance: new(big.Int)})
	return o
}

// Close stops background confirmation waits and pending refreshes.
func (o *Orchestrator) Close() {
	o.bgCancel()
	o.bgWG.Wait()
}

func (o *Orchestrator) Ledger() types.Ledger {
	return *o.ledger.Load()
}

func (o *Orchestrator) Pool() types.PoolState {
	return *o.pool.Load()
}

func (o *Orchestrator) Operator() common.Address {
	return o.signer.Address()
}

func (o *Orchestrator) Custody() *Custody {
	return o.custody
}

// Submission returns the tracked submission for a transaction hash.
func (o *Orchestrator) Submission(hash common.Hash) (*Submission, bool) {
	v, ok := o.submissions.Load(hash)
	if !ok {
		return nil, false
	}
	return v.(*Submission), true
}

// Fund deposits amount from the operator account into the custody pool.
func (o *Orchestrator) Fund(ctx context.Context, amount *big.Int) (*Submission, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: fund amount must be positive", ErrZeroAmount)
	}

	balance, err := o.chain.BalanceAt(ctx, o.signer.Address(), nil)
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to get operator balance: %w", err))
	}
	if err := EnsureFundsAvailable(amount, balance); err != nil {
		return nil, err
	}

	data, err := o.custody.PackDeposit()
	if err != nil {
		return nil, fmt.Errorf("failed to pack deposit: %w", err)
	}

	sub, err := o.submit(ctx, SubmissionFund, txRequest{
		value: amount,
		data:  data,
		gas:   o.cfg.Gas.DepositLimit,
	})
	if err != nil {
		return nil, err
	}

	o.scheduleRefresh()
	return sub, nil
}

// Disburse pays every recipient of batch from the custody pool in a single
// transaction and records it optimistically in the ledger.
func (o *Orchestrator) Disburse(ctx context.Context, batch types.DisbursementBatch) (*Submission, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	state, err := o.RefreshPool(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	if err := EnsureFundsAvailable(batch.TotalAmount, state.Balance); err != nil {
		return nil, err
	}

	data, err := o.custody.PackDisperse(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to pack disperse: %w", err)
	}

	sub, err := o.submit(ctx, SubmissionDisburse, txRequest{
		value: new(big.Int),
		data:  data,
		gas:   o.cfg.DisperseGasLimit(batch.Len()),
		total: batch.TotalAmount,
	})
	if err != nil {
		return nil, err
	}

	o.prepend(types.TransactionRecord{
		Kind:           types.KindPayroll,
		RecipientCount: batch.Len(),
		TotalAmount:    new(big.Int).Set(batch.TotalAmount),
		OccurredAt:     sub.SubmittedAt,
		Hash:           sub.Hash,
	})
	o.scheduleRefresh()
	return sub, nil
}

// Withdraw drains the custody pool back to its owner. The program refuses
// the call unless the operator is the owner.
func (o *Orchestrator) Withdraw(ctx context.Context) (*Submission, error) {
	state, err := o.RefreshPool(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	if state.Balance.Sign() == 0 {
		return nil, fmt.Errorf("%w: custody pool is empty", ErrInsufficientFunds)
	}

	data, err := o.custody.PackWithdraw()
	if err != nil {
		return nil, fmt.Errorf("failed to pack withdraw: %w", err)
	}

	sub, err := o.submit(ctx, SubmissionWithdraw, txRequest{
		value: new(big.Int),
		data:  data,
		gas:   o.cfg.Gas.WithdrawLimit,
		total: state.Balance,
	})
	if err != nil {
		return nil, err
	}

	o.scheduleRefresh()
	return sub, nil
}

// Owner reads the custody program's owner.
func (o *Orchestrator) Owner(ctx context.Context) (common.Address, error) {
	data, err := o.custody.PackOwner()
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack owner: %w", err)
	}
	out, err := o.chain.CallContract(ctx, ethereum.CallMsg{To: &o.custody.Address, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call owner: %w", err)
	}
	return o.custody.UnpackOwner(out)
}

// RefreshPool reads the custody balance and publishes a new pool snapshot.
func (o *Orchestrator) RefreshPool(ctx context.Context) (types.PoolState, error) {
	balance, err := o.chain.BalanceAt(ctx, o.custody.Address, nil)
	if err != nil {
		return types.PoolState{}, fmt.Errorf("failed to get pool balance: %w", err)
	}
	state := &types.PoolState{Balance: balance, UpdatedAt: o.now()}
	o.pool.Store(state)
	return *state, nil
}

// SyncHistory reconstructs confirmed history and merges it into the ledger,
// superseding optimistic records with the same hash.
func (o *Orchestrator) SyncHistory(ctx context.Context) (HistoryResult, error) {
	result, err := ReconstructHistory(ctx, o.chain, o.custody, o.cfg.History.LookbackBlocks, o.logger)
	if err != nil {
		return HistoryResult{}, err
	}

	for {
		current := o.ledger.Load()
		next := MergeHistory(*current, result.Records)
		if o.ledger.CompareAndSwap(current, &next) {
			break
		}
	}
	return result, nil
}

func (o *Orchestrator) prepend(record types.TransactionRecord) {
	for {
		current := o.ledger.Load()
		next := PrependRecord(*current, record)
		// a history sync already confirmed this hash
		if next.Version == current.Version {
			return
		}
		if o.ledger.CompareAndSwap(current, &next) {
			return
		}
	}
}

type txRequest struct {
	value *big.Int
	data  []byte
	gas   uint64
	// total is the amount moved by the call; equals value for deposits.
	total *big.Int
}

// submit signs and broadcasts a custody call. It returns as soon as the node
// accepts the transaction; confirmation is awaited in the background.
func (o *Orchestrator) submit(ctx context.Context, kind SubmissionKind, req txRequest) (*Submission, error) {
	if req.total == nil {
		req.total = req.value
	}
	sub := newSubmission(kind, req.total)
	sub.transition(StateSubmitting)

	logger := o.logger.WithFields(logrus.Fields{
		"kind":          kind,
		"submission_id": sub.ID.String(),
		"amount":        FormatTokenAmount(req.total),
	})

	submitCtx, cancel := context.WithTimeout(ctx, o.cfg.Monitoring.SubmitTimeout)
	defer cancel()

	signed, err := o.signAndSend(submitCtx, req)
	if err != nil {
		classified := Classify(err)
		state := StateRejected
		if errors.Is(classified, ErrTimeout) {
			state = StateTimedOut
		}
		sub.finish(state, classified, nil)
		logger.WithError(classified).Error("submission failed")
		return nil, classified
	}

	sub.Hash = signed.Hash()
	sub.SubmittedAt = o.now()
	sub.transition(StatePending)
	o.submissions.Store(sub.Hash, sub)

	logger.WithFields(logrus.Fields{
		"tx_hash":  sub.Hash.Hex(),
		"explorer": o.cfg.ExplorerTxURL(sub.Hash),
	}).Info("transaction submitted")

	o.bgWG.Add(1)
	go func() {
		defer o.bgWG.Done()
		o.awaitConfirmation(sub, logger.WithField("tx_hash", sub.Hash.Hex()))
	}()
	return sub, nil
}

func (o *Orchestrator) signAndSend(ctx context.Context, req txRequest) (*gtypes.Transaction, error) {
	from := o.signer.Address()

	chainID, err := o.chainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := o.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := o.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	tx := gtypes.NewTx(&gtypes.LegacyTx{
		Nonce:    nonce,
		To:       &o.custody.Address,
		Value:    req.value,
		Gas:      req.gas,
		GasPrice: gasPrice,
		Data:     req.data,
	})

	signed, err := o.sign(ctx, tx, chainID)
	if err != nil {
		return nil, err
	}
	if err := o.chain.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

// sign stops waiting on the signer once ctx is done, even if the signer
// itself ignores ctx.
func (o *Orchestrator) sign(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	type result struct {
		tx  *gtypes.Transaction
		err error
	}
	ch := make(chan result, 1)
	go func() {
		signed, err := o.signer.SignTx(ctx, tx, chainID)
		ch <- result{tx: signed, err: err}
	}()

	select {
	case r := <-ch:
		return r.tx, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("signing: %w", ctx.Err())
	}
}

func (o *Orchestrator) chainID(ctx context.Context) (*big.Int, error) {
	if o.cfg.ChainID > 0 {
		return big.NewInt(o.cfg.ChainID), nil
	}
	id, err := o.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id, nil
}

type receiptResult struct {
	receipt *gtypes.Receipt
	err     error
}

// awaitConfirmation races the receipt poll against confirm_timeout. Losing
// the race marks the submission timed out but the poll keeps running for
// late_confirm_window so a late inclusion is still logged and reflected in
// the pool snapshot.
func (o *Orchestrator) awaitConfirmation(sub *Submission, logger logrus.FieldLogger) {
	window := o.cfg.Monitoring.LateConfirmWindow
	if window < o.cfg.Monitoring.ConfirmTimeout {
		window = o.cfg.Monitoring.ConfirmTimeout
	}
	waitCtx, cancel := context.WithTimeout(o.bgCtx, window)
	defer cancel()

	results := make(chan receiptResult, 1)
	go func() {
		receipt, err := waitMined(waitCtx, o.chain, sub.Hash, o.cfg.Monitoring.PollInterval, logger)
		results <- receiptResult{receipt: receipt, err: err}
	}()

	timer := time.NewTimer(o.cfg.Monitoring.ConfirmTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		o.settle(sub, r, logger)
		return
	case <-timer.C:
		err := fmt.Errorf("%w: %s not confirmed after %s, check explorer %s", ErrTimeout,
			sub.Hash.Hex(), o.cfg.Monitoring.ConfirmTimeout, o.cfg.ExplorerTxURL(sub.Hash))
		sub.finish(StateTimedOut, err, nil)
		logger.WithError(err).Warn("confirmation timed out")
	}

	r := <-results
	if r.err != nil {
		logger.WithError(r.err).Warn("transaction still unconfirmed, giving up")
		return
	}
	logger.WithFields(logrus.Fields{
		"block":  r.receipt.BlockNumber,
		"status": r.receipt.Status,
	}).Info("late confirmation")
	o.refreshPool()
}

func (o *Orchestrator) settle(sub *Submission, r receiptResult, logger logrus.FieldLogger) {
	if r.err != nil {
		// only the background context ends the wait before the timer
		sub.finish(StateTimedOut, Classify(r.err), nil)
		logger.WithError(r.err).Warn("confirmation wait aborted")
		return
	}

	block := r.receipt.BlockNumber.Uint64()
	if r.receipt.Status != gtypes.ReceiptStatusSuccessful {
		err := &ContractRejectedError{Reason: fmt.Sprintf("transaction reverted in block %d", block)}
		sub.finish(StateRejected, err, &block)
		logger.WithError(err).Error("transaction reverted")
		return
	}

	sub.finish(StateConfirmed, nil, &block)
	logger.WithField("block", block).Info("transaction confirmed")
}

// scheduleRefresh re-reads the pool balance after refresh_delay.
func (o *Orchestrator) scheduleRefresh() {
	o.bgWG.Add(1)
	go func() {
		defer o.bgWG.Done()
		timer := time.NewTimer(o.cfg.Monitoring.RefreshDelay)
		defer timer.Stop()
		select {
		case <-o.bgCtx.Done():
			return
		case <-timer.C:
		}
		o.refreshPool()
	}()
}

func (o *Orchestrator) refreshPool() {
	ctx, cancel := context.WithTimeout(o.bgCtx, o.cfg.Monitoring.SubmitTimeout)
	defer cancel()
	if _, err := o.RefreshPool(ctx); err != nil {
		o.logger.WithError(err).Warn("pool refresh failed")
	}
}

func validateBatch(batch types.DisbursementBatch) error {
	if batch.Len() == 0 {
		return ErrEmptyBatch
	}
	if len(batch.Amounts) != batch.Len() {
		return fmt.Errorf("batch has %d recipients but %d amounts", batch.Len(), len(batch.Amounts))
	}
	for i, amount := range batch.Amounts {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: recipient %d", ErrZeroAmount, i)
		}
	}
	if batch.TotalAmount == nil || SumAmounts(batch.Amounts).Cmp(batch.TotalAmount) != 0 {
		return fmt.Errorf("batch total does not match the sum of its amounts")
	}
	return nil
}
