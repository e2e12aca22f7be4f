package payroll

import (
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/payroll/plugin/payroll/payrolltest"
)

var testCustodyAddress = common.HexToAddress("0xd526E17ebD9Cb6Ff3C6C8d845Fb28F276ba1fcb0")

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T) *PluginConfig {
	t.Helper()
	cfg, err := DecodePluginConfig(map[string]interface{}{
		"monitoring": map[string]interface{}{
			"submit_timeout":      "200ms",
			"confirm_timeout":     "200ms",
			"late_confirm_window": "1s",
			"poll_interval":       "5ms",
			"refresh_delay":       "10ms",
		},
	})
	require.NoError(t, err)
	return cfg
}

func testCustody(t *testing.T) *Custody {
	t.Helper()
	custody, err := NewCustody(testCustodyAddress)
	require.NoError(t, err)
	return custody
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(TokenDecimals))
}

func assertAmount(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	assert.Truef(t, want.Cmp(got) == 0, "want %s, got %s", want, got)
}

func depositLog(t *testing.T, c *Custody, tx common.Hash, block uint64, amount *big.Int) gtypes.Log {
	t.Helper()
	return payrolltest.DepositLog(c.Address, tx, block, common.HexToAddress("0x00000000000000000000000000000000000000aa"), amount)
}

func disbursedLog(t *testing.T, c *Custody, tx common.Hash, block uint64, amounts ...*big.Int) gtypes.Log {
	t.Helper()
	return payrolltest.DisbursedLog(c.Address, tx, block, amounts...)
}

func waitDone(t *testing.T, sub *Submission) SubmissionStatus {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not reach a terminal state")
	}
	return sub.Status()
}

var errBoom = errors.New("boom")
