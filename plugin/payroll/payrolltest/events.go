package payrolltest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	DepositedTopic = crypto.Keccak256Hash([]byte("FundsDeposited(address,uint256)"))
	DisbursedTopic = crypto.Keccak256Hash([]byte("PaymentDisbursed(address[],uint256[],uint256)"))
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	depositedArgs = abi.Arguments{
		{Name: "depositor", Type: mustType("address")},
		{Name: "amount", Type: mustType("uint256")},
	}
	disbursedArgs = abi.Arguments{
		{Name: "recipients", Type: mustType("address[]")},
		{Name: "amounts", Type: mustType("uint256[]")},
		{Name: "timestamp", Type: mustType("uint256")},
	}
)

// DepositLog builds a FundsDeposited log emitted by custody in block.
func DepositLog(custody common.Address, tx common.Hash, block uint64, depositor common.Address, amount *big.Int) gtypes.Log {
	data, err := depositedArgs.Pack(depositor, amount)
	if err != nil {
		panic(err)
	}
	return gtypes.Log{
		Address:     custody,
		Topics:      []common.Hash{DepositedTopic},
		Data:        data,
		BlockNumber: block,
		TxHash:      tx,
	}
}

// DisbursedLog builds a PaymentDisbursed log paying amounts to synthetic
// recipients 0x..01, 0x..02 and so on.
func DisbursedLog(custody common.Address, tx common.Hash, block uint64, amounts ...*big.Int) gtypes.Log {
	recipients := make([]common.Address, len(amounts))
	for i := range amounts {
		recipients[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}
	data, err := disbursedArgs.Pack(recipients, amounts, new(big.Int).SetUint64(BlockTime(block)))
	if err != nil {
		panic(err)
	}
	return gtypes.Log{
		Address:     custody,
		Topics:      []common.Hash{DisbursedTopic},
		Data:        data,
		BlockNumber: block,
		TxHash:      tx,
	}
}
