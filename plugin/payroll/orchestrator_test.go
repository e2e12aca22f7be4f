package payroll

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/payroll/internal/types"
	"github.com/vultisig/payroll/plugin/payroll/payrolltest"
)

type orchestratorFixture struct {
	chain   *payrolltest.FakeChain
	signer  *payrolltest.Signer
	custody *Custody
	orch    *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		chain:   payrolltest.NewFakeChain(),
		signer:  payrolltest.NewSigner(),
		custody: testCustody(t),
	}
	f.orch = NewOrchestrator(testConfig(t), f.chain, f.signer, f.custody, testLogger())
	t.Cleanup(f.orch.Close)
	return f
}

func testBatch(amounts ...*big.Int) types.DisbursementBatch {
	batch := types.DisbursementBatch{TotalAmount: new(big.Int)}
	for i, amount := range amounts {
		batch.Names = append(batch.Names, string(rune('A'+i)))
		batch.Recipients = append(batch.Recipients, common.BigToAddress(big.NewInt(int64(i+100))))
		batch.Amounts = append(batch.Amounts, amount)
		batch.TotalAmount.Add(batch.TotalAmount, amount)
	}
	return batch
}

func TestOrchestrator_Fund(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.AutoMine = true
	f.chain.SetBalance(f.signer.Address(), tokens(100))

	sub, err := f.orch.Fund(context.Background(), tokens(10))
	require.NoError(t, err)
	assert.Equal(t, SubmissionFund, sub.Kind)
	assert.NotEqual(t, common.Hash{}, sub.Hash)

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, f.custody.Address, *tx.To())
	assertAmount(t, tokens(10), tx.Value())
	assert.Equal(t, uint64(100000), tx.Gas())
	assert.Equal(t, sub.Hash, tx.Hash())

	from, err := gtypes.Sender(gtypes.LatestSignerForChainID(big.NewInt(8081)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.signer.Address(), from)

	status := waitDone(t, sub)
	assert.Equal(t, StateConfirmed, status.State)
	require.NotNil(t, status.BlockNumber)

	got, ok := f.orch.Submission(sub.Hash)
	require.True(t, ok)
	assert.Same(t, sub, got)

	// deposits are not recorded optimistically
	assert.Empty(t, f.orch.Ledger().Records)
}

func TestOrchestrator_FundInsufficientBalance(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.signer.Address(), tokens(5))

	_, err := f.orch.Fund(context.Background(), tokens(10))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, f.chain.Sent())

	_, err = f.orch.Fund(context.Background(), big.NewInt(0))
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestOrchestrator_Disburse(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(10))
	batch := testBatch(tokens(3), tokens(4))

	before := time.Now()
	sub, err := f.orch.Disburse(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, SubmissionDisburse, sub.Kind)
	assert.Equal(t, StatePending, sub.State())

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].Value().Sign())
	assert.Equal(t, uint64(300000+2*50000), sent[0].Gas())

	ledger := f.orch.Ledger()
	assert.Equal(t, uint64(1), ledger.Version)
	require.Len(t, ledger.Records, 1)
	record := ledger.Records[0]
	assert.Equal(t, types.KindPayroll, record.Kind)
	assert.Equal(t, 2, record.RecipientCount)
	assertAmount(t, tokens(7), record.TotalAmount)
	assert.Equal(t, sub.Hash, record.Hash)
	assert.Nil(t, record.BlockNumber)
	assert.False(t, record.OccurredAt.Before(before))

	assertAmount(t, tokens(10), f.orch.Pool().Balance)
}

func TestOrchestrator_DisburseInsufficientPool(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, new(big.Int).Sub(tokens(7), big.NewInt(1)))

	_, err := f.orch.Disburse(context.Background(), testBatch(tokens(3), tokens(4)))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, f.chain.Sent())
	assert.Empty(t, f.orch.Ledger().Records)
}

func TestOrchestrator_DisburseExactPool(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(7))

	_, err := f.orch.Disburse(context.Background(), testBatch(tokens(3), tokens(4)))
	require.NoError(t, err)
}

func TestOrchestrator_DisburseRejectsMalformedBatch(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(100))

	_, err := f.orch.Disburse(context.Background(), types.DisbursementBatch{})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	batch := testBatch(tokens(3), tokens(4))
	batch.TotalAmount = tokens(8)
	_, err = f.orch.Disburse(context.Background(), batch)
	assert.Error(t, err)

	batch = testBatch(tokens(3), big.NewInt(0))
	_, err = f.orch.Disburse(context.Background(), batch)
	assert.ErrorIs(t, err, ErrZeroAmount)

	assert.Empty(t, f.chain.Sent())
}

func TestOrchestrator_UserRejected(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(10))
	f.signer.Err = &payrolltest.RPCError{Code: 4001, Msg: "User rejected the request."}

	_, err := f.orch.Disburse(context.Background(), testBatch(tokens(1)))
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.Empty(t, f.chain.Sent())
	assert.Empty(t, f.orch.Ledger().Records)
}

func TestOrchestrator_SignerStallTimesOut(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.signer.Address(), tokens(10))
	f.signer.Block = make(chan struct{})
	defer close(f.signer.Block)

	_, err := f.orch.Fund(context.Background(), tokens(1))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, f.chain.Sent())
}

func TestOrchestrator_ContractRejectedOnSend(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(10))
	f.chain.SendErr = &payrolltest.RPCError{Code: 3, Msg: "execution reverted", Data: notOwnerRevert}

	_, err := f.orch.Withdraw(context.Background())
	var rejected *ContractRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Not owner", rejected.Reason)
}

func TestOrchestrator_ConfirmationTimeout(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(10))

	sub, err := f.orch.Disburse(context.Background(), testBatch(tokens(1)))
	require.NoError(t, err)

	status := waitDone(t, sub)
	assert.Equal(t, StateTimedOut, status.State)
	assert.ErrorIs(t, status.Err, ErrTimeout)
	assert.Contains(t, status.Err.Error(), "explorer-unstable.shardeum.org/tx/"+sub.Hash.Hex())

	// a late inclusion is reconciled by the history merge
	c := f.custody
	f.chain.Mine(sub.Hash, 12, gtypes.ReceiptStatusSuccessful)
	f.chain.SetHead(12)
	f.chain.AddLogs(disbursedLog(t, c, sub.Hash, 12, tokens(1)))

	_, err = f.orch.SyncHistory(context.Background())
	require.NoError(t, err)

	ledger := f.orch.Ledger()
	require.Len(t, ledger.Records, 1)
	require.NotNil(t, ledger.Records[0].BlockNumber)
	assert.Equal(t, uint64(12), *ledger.Records[0].BlockNumber)
	assert.Equal(t, sub.Hash, ledger.Records[0].Hash)
}

func TestOrchestrator_RevertedReceipt(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.signer.Address(), tokens(10))

	sub, err := f.orch.Fund(context.Background(), tokens(1))
	require.NoError(t, err)
	f.chain.Mine(sub.Hash, 3, gtypes.ReceiptStatusFailed)

	status := waitDone(t, sub)
	assert.Equal(t, StateRejected, status.State)
	var rejected *ContractRejectedError
	assert.ErrorAs(t, status.Err, &rejected)
}

func TestOrchestrator_Withdraw(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.Withdraw(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	f.chain.SetBalance(f.custody.Address, tokens(4))
	sub, err := f.orch.Withdraw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SubmissionWithdraw, sub.Kind)
	assertAmount(t, tokens(4), sub.Amount)

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(100000), sent[0].Gas())
}

func TestOrchestrator_Owner(t *testing.T) {
	f := newOrchestratorFixture(t)
	out, err := f.custody.abi.Methods["owner"].Outputs.Pack(f.signer.Address())
	require.NoError(t, err)
	f.chain.Owner = out

	owner, err := f.orch.Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.signer.Address(), owner)
}

func TestOrchestrator_DelayedPoolRefresh(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.signer.Address(), tokens(10))

	_, err := f.orch.Fund(context.Background(), tokens(5))
	require.NoError(t, err)
	f.chain.SetBalance(f.custody.Address, tokens(5))

	assert.Eventually(t, func() bool {
		return f.orch.Pool().Balance.Cmp(tokens(5)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_SyncHistoryReplacesOptimistic(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(10))
	f.chain.AutoMine = true

	sub, err := f.orch.Disburse(context.Background(), testBatch(tokens(3), tokens(4)))
	require.NoError(t, err)
	waitDone(t, sub)

	head, err := f.chain.BlockNumber(context.Background())
	require.NoError(t, err)
	f.chain.AddLogs(
		depositLog(t, f.custody, common.HexToHash("0xd1"), 1, tokens(10)),
		disbursedLog(t, f.custody, sub.Hash, head, tokens(3), tokens(4)),
	)

	result, err := f.orch.SyncHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)

	ledger := f.orch.Ledger()
	require.Len(t, ledger.Records, 2)
	assert.Equal(t, sub.Hash, ledger.Records[0].Hash)
	assert.True(t, ledger.Records[0].Confirmed())
	assert.Equal(t, types.KindDeposit, ledger.Records[1].Kind)
}

func TestOrchestrator_SyncBeforeOptimisticRecord(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chain.SetBalance(f.custody.Address, tokens(10))
	f.chain.AutoMine = true
	// history catches up before Disburse records the submission
	f.chain.OnSend = func(tx *gtypes.Transaction) {
		head, err := f.chain.BlockNumber(context.Background())
		require.NoError(t, err)
		f.chain.AddLogs(disbursedLog(t, f.custody, tx.Hash(), head, tokens(3)))
		_, err = f.orch.SyncHistory(context.Background())
		require.NoError(t, err)
	}

	sub, err := f.orch.Disburse(context.Background(), testBatch(tokens(3)))
	require.NoError(t, err)
	waitDone(t, sub)

	ledger := f.orch.Ledger()
	require.Len(t, ledger.Records, 1)
	assert.Equal(t, sub.Hash, ledger.Records[0].Hash)
	assert.True(t, ledger.Records[0].Confirmed())
}
