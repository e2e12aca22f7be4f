// Package payrolltest provides in-memory doubles of the node RPC and the
// operator signer for tests of code built on the payroll plugin.
package payrolltest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChainID is the chain id reported by FakeChain.
const ChainID = 8081

// FakeChain is an in-memory node. Exported fields may be set before the chain
// is shared with other goroutines; afterwards use the methods.
type FakeChain struct {
	mu sync.Mutex

	Head       uint64
	HeadErr    error
	BalanceErr error
	HeaderErr  map[uint64]error
	LogErr     map[common.Hash]error
	Queries    []ethereum.FilterQuery
	Owner      []byte
	SendErr    error
	// AutoMine confirms every sent transaction in a new block.
	AutoMine bool
	// OnSend runs after a transaction is accepted, outside the chain lock.
	OnSend func(tx *gtypes.Transaction)

	balances map[common.Address]*big.Int
	times    map[uint64]uint64
	logs     map[common.Hash][]gtypes.Log
	nonce    uint64
	sent     []*gtypes.Transaction
	receipts map[common.Hash]*gtypes.Receipt
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		HeaderErr: make(map[uint64]error),
		LogErr:    make(map[common.Hash]error),
		balances:  make(map[common.Address]*big.Int),
		times:     make(map[uint64]uint64),
		logs:      make(map[common.Hash][]gtypes.Log),
		receipts:  make(map[common.Hash]*gtypes.Receipt),
	}
}

// BlockTime is the timestamp FakeChain assigns to block n.
func BlockTime(n uint64) uint64 {
	return 1_700_000_000 + n
}

func (f *FakeChain) SetBalance(addr common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(amount)
}

func (f *FakeChain) SetHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Head = head
}

// AddLogs makes logs visible to FilterLogs, keyed by their first topic.
func (f *FakeChain) AddLogs(logs ...gtypes.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, log := range logs {
		f.logs[log.Topics[0]] = append(f.logs[log.Topics[0]], log)
		if _, ok := f.times[log.BlockNumber]; !ok {
			f.times[log.BlockNumber] = BlockTime(log.BlockNumber)
		}
	}
}

// Mine publishes a receipt for hash.
func (f *FakeChain) Mine(hash common.Hash, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times[block] = BlockTime(block)
	f.receipts[hash] = &gtypes.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
	}
}

// Sent returns the transactions accepted so far.
func (f *FakeChain) Sent() []*gtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gtypes.Transaction(nil), f.sent...)
}

func (f *FakeChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *FakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Head, f.HeadErr
}

func (f *FakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*gtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := number.Uint64()
	if err := f.HeaderErr[n]; err != nil {
		return nil, err
	}
	ts, ok := f.times[n]
	if !ok {
		return nil, ethereum.NotFound
	}
	return &gtypes.Header{Number: new(big.Int).Set(number), Time: ts}, nil
}

func (f *FakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, q)
	if len(q.Topics) == 0 || len(q.Topics[0]) == 0 {
		return nil, nil
	}
	topic := q.Topics[0][0]
	if err := f.LogErr[topic]; err != nil {
		return nil, err
	}
	var out []gtypes.Log
	for _, log := range f.logs[topic] {
		if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *FakeChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Owner, nil
}

func (f *FakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *FakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *FakeChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(ChainID), nil
}

func (f *FakeChain) SendTransaction(_ context.Context, tx *gtypes.Transaction) error {
	if err := f.send(tx); err != nil {
		return err
	}
	if f.OnSend != nil {
		f.OnSend(tx)
	}
	return nil
}

func (f *FakeChain) send(tx *gtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	if f.AutoMine {
		f.Head++
		f.times[f.Head] = BlockTime(f.Head)
		f.receipts[tx.Hash()] = &gtypes.Receipt{
			TxHash:      tx.Hash(),
			Status:      gtypes.ReceiptStatusSuccessful,
			BlockNumber: new(big.Int).SetUint64(f.Head),
		}
	}
	return nil
}

func (f *FakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*gtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// TestKey is a throwaway secp256k1 key in hex.
const TestKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

// Signer signs with TestKey unless Err is set. When Block is non-nil SignTx
// waits on it without watching ctx, like a wallet prompt left open.
type Signer struct {
	Err   error
	Block chan struct{}

	key *ecdsa.PrivateKey
}

func NewSigner() *Signer {
	key, err := crypto.HexToECDSA(TestKey)
	if err != nil {
		panic(err)
	}
	return &Signer{key: key}
}

func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *Signer) SignTx(_ context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	if s.Block != nil {
		<-s.Block
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return gtypes.SignTx(tx, gtypes.LatestSignerForChainID(chainID), s.key)
}

// RPCError mimics a JSON-RPC error returned by a wallet or node.
type RPCError struct {
	Code int
	Msg  string
	Data interface{}
}

func (e *RPCError) Error() string          { return e.Msg }
func (e *RPCError) ErrorCode() int         { return e.Code }
func (e *RPCError) ErrorData() interface{} { return e.Data }
