package payroll

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ChainClient is the subset of the node RPC used by the payroll plugin.
// *ethclient.Client satisfies it.
type ChainClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gtypes.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gtypes.Receipt, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// queryEvents returns the custody program's logs of one kind in [from, to].
func queryEvents(ctx context.Context, chain ChainClient, custody *Custody, kind EventKind, from, to uint64) ([]gtypes.Log, error) {
	topic, err := custody.EventTopic(kind)
	if err != nil {
		return nil, err
	}

	logs, err := chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{custody.Address},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s events in [%d, %d]: %w", kind, from, to, err)
	}
	return logs, nil
}

func blockTime(ctx context.Context, chain ChainClient, number uint64) (time.Time, error) {
	header, err := chain.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// waitMined polls for the receipt of hash until it is available or ctx is
// done. Transient RPC failures are logged and retried.
func waitMined(ctx context.Context, chain ChainClient, hash common.Hash, interval time.Duration, logger logrus.FieldLogger) (*gtypes.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := chain.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			logger.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt retrieval failed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
