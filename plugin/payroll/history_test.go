package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/payroll/internal/types"
	"github.com/vultisig/payroll/plugin/payroll/payrolltest"
)

func TestReconstructHistory(t *testing.T) {
	c := testCustody(t)
	chain := payrolltest.NewFakeChain()
	chain.Head = 100
	chain.AddLogs(
		depositLog(t, c, common.HexToHash("0xd1"), 5, tokens(10)),
		disbursedLog(t, c, common.HexToHash("0xe1"), 8, tokens(3), tokens(4)),
	)

	result, err := ReconstructHistory(context.Background(), chain, c, 10000, testLogger())
	require.NoError(t, err)
	assert.Nil(t, result.Partial)
	assert.Equal(t, uint64(0), result.From)
	assert.Equal(t, uint64(100), result.To)

	require.Len(t, result.Records, 2)

	payroll := result.Records[0]
	assert.Equal(t, types.KindPayroll, payroll.Kind)
	assert.Equal(t, 2, payroll.RecipientCount)
	assertAmount(t, tokens(7), payroll.TotalAmount)
	require.NotNil(t, payroll.BlockNumber)
	assert.Equal(t, uint64(8), *payroll.BlockNumber)
	assert.Equal(t, common.HexToHash("0xe1"), payroll.Hash)
	assert.Equal(t, time.Unix(1_700_000_008, 0).UTC(), payroll.OccurredAt)

	deposit := result.Records[1]
	assert.Equal(t, types.KindDeposit, deposit.Kind)
	assert.Equal(t, 1, deposit.RecipientCount)
	assertAmount(t, tokens(10), deposit.TotalAmount)
	require.NotNil(t, deposit.BlockNumber)
	assert.Equal(t, uint64(5), *deposit.BlockNumber)
}

func TestReconstructHistory_Window(t *testing.T) {
	c := testCustody(t)
	chain := payrolltest.NewFakeChain()
	chain.Head = 20_000
	chain.AddLogs(
		depositLog(t, c, common.HexToHash("0x01"), 9_999, tokens(1)),
		depositLog(t, c, common.HexToHash("0x02"), 10_000, tokens(2)),
		depositLog(t, c, common.HexToHash("0x03"), 20_000, tokens(3)),
	)

	result, err := ReconstructHistory(context.Background(), chain, c, 10_000, testLogger())
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), result.From)
	assert.Equal(t, []uint64{20_000, 10_000}, blocks(result.Records))

	require.Len(t, chain.Queries, 2)
	for _, q := range chain.Queries {
		assert.Equal(t, []common.Address{c.Address}, q.Addresses)
		assert.Equal(t, uint64(10_000), q.FromBlock.Uint64())
		assert.Equal(t, uint64(20_000), q.ToBlock.Uint64())
	}
}

func TestReconstructHistory_Ordering(t *testing.T) {
	c := testCustody(t)
	chain := payrolltest.NewFakeChain()
	chain.Head = 50
	chain.AddLogs(
		disbursedLog(t, c, common.HexToHash("0x10"), 10, tokens(1)),
		disbursedLog(t, c, common.HexToHash("0x30"), 30, tokens(1)),
		disbursedLog(t, c, common.HexToHash("0x20"), 20, tokens(1)),
	)

	result, err := ReconstructHistory(context.Background(), chain, c, 10000, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []uint64{30, 20, 10}, blocks(result.Records))
}

func TestReconstructHistory_SkipsBadEvents(t *testing.T) {
	c := testCustody(t)
	chain := payrolltest.NewFakeChain()
	chain.Head = 50

	broken := disbursedLog(t, c, common.HexToHash("0xbad"), 12, tokens(1))
	broken.Data = broken.Data[:10]
	chain.AddLogs(
		depositLog(t, c, common.HexToHash("0x01"), 5, tokens(1)),
		depositLog(t, c, common.HexToHash("0x02"), 6, tokens(1)),
		disbursedLog(t, c, common.HexToHash("0x03"), 7, tokens(1)),
		broken,
	)
	chain.HeaderErr[6] = errBoom

	result, err := ReconstructHistory(context.Background(), chain, c, 10000, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 5}, blocks(result.Records))

	require.NotNil(t, result.Partial)
	assert.Equal(t, 2, result.Partial.Skipped)
	assert.ErrorIs(t, result.Partial, errBoom)
}

func TestReconstructHistory_QueryFailureIsPartial(t *testing.T) {
	c := testCustody(t)
	chain := payrolltest.NewFakeChain()
	chain.Head = 50
	chain.AddLogs(depositLog(t, c, common.HexToHash("0x01"), 5, tokens(1)))

	topic, err := c.EventTopic(EventPaymentDisbursed)
	require.NoError(t, err)
	chain.LogErr[topic] = errBoom

	result, err := ReconstructHistory(context.Background(), chain, c, 10000, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, blocks(result.Records))
	require.NotNil(t, result.Partial)
	assert.Equal(t, 0, result.Partial.Skipped)
	assert.ErrorIs(t, result.Partial, errBoom)
}

func TestReconstructHistory_HeadFailure(t *testing.T) {
	chain := payrolltest.NewFakeChain()
	chain.HeadErr = errBoom

	_, err := ReconstructHistory(context.Background(), chain, testCustody(t), 10000, testLogger())
	assert.ErrorIs(t, err, errBoom)
}

func TestReconstructHistory_SkipsRemovedLogs(t *testing.T) {
	c := testCustody(t)
	chain := payrolltest.NewFakeChain()
	chain.Head = 50

	reorged := depositLog(t, c, common.HexToHash("0x01"), 5, tokens(1))
	reorged.Removed = true
	chain.AddLogs(reorged, depositLog(t, c, common.HexToHash("0x02"), 6, tokens(1)))

	result, err := ReconstructHistory(context.Background(), chain, c, 10000, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, blocks(result.Records))
	assert.Nil(t, result.Partial)
}
