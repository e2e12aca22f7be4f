package payroll

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vultisig/payroll/internal/types"
)

// EventKind names one of the two events emitted by the custody program.
type EventKind string

const (
	EventFundsDeposited   EventKind = "FundsDeposited"
	EventPaymentDisbursed EventKind = "PaymentDisbursed"
)

const custodyABI = `[
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"disperse","stateMutability":"nonpayable","inputs":[
		{"name":"recipients","type":"address[]"},
		{"name":"amounts","type":"uint256[]"}
	],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"PaymentDisbursed","anonymous":false,"inputs":[
		{"name":"recipients","type":"address[]","indexed":false},
		{"name":"amounts","type":"uint256[]","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"FundsDeposited","anonymous":false,"inputs":[
		{"name":"depositor","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]}
]`

// Custody is the client-side binding of the deployed custody program.
type Custody struct {
	Address common.Address
	abi     abi.ABI
}

type PaymentDisbursed struct {
	Recipients []common.Address
	Amounts    []*big.Int
	Timestamp  *big.Int
}

type FundsDeposited struct {
	Depositor common.Address
	Amount    *big.Int
}

func NewCustody(address common.Address) (*Custody, error) {
	parsed, err := abi.JSON(strings.NewReader(custodyABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse custody abi: %w", err)
	}

	return &Custody{
		Address: address,
		abi:     parsed,
	}, nil
}

func (c *Custody) PackDeposit() ([]byte, error) {
	return c.abi.Pack("deposit")
}

func (c *Custody) PackWithdraw() ([]byte, error) {
	return c.abi.Pack("withdraw")
}

func (c *Custody) PackOwner() ([]byte, error) {
	return c.abi.Pack("owner")
}

func (c *Custody) UnpackOwner(data []byte) (common.Address, error) {
	out, err := c.abi.Unpack("owner", data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack owner: %w", err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected owner output length %d", len(out))
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected owner output type %T", out[0])
	}
	return owner, nil
}

func (c *Custody) PackDisperse(batch types.DisbursementBatch) ([]byte, error) {
	if len(batch.Recipients) != len(batch.Amounts) {
		return nil, fmt.Errorf("recipients/amounts length mismatch: %d != %d",
			len(batch.Recipients), len(batch.Amounts))
	}
	return c.abi.Pack("disperse", batch.Recipients, batch.Amounts)
}

// EventTopic returns the topic0 hash identifying the event kind.
func (c *Custody) EventTopic(kind EventKind) (common.Hash, error) {
	event, ok := c.abi.Events[string(kind)]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown custody event %q", kind)
	}
	return event.ID, nil
}

func (c *Custody) DecodeDisbursed(log gtypes.Log) (PaymentDisbursed, error) {
	var ev PaymentDisbursed
	if err := c.unpackEvent(&ev, EventPaymentDisbursed, log); err != nil {
		return PaymentDisbursed{}, err
	}
	if len(ev.Recipients) != len(ev.Amounts) {
		return PaymentDisbursed{}, fmt.Errorf("disbursement %s: %d recipients but %d amounts",
			log.TxHash.Hex(), len(ev.Recipients), len(ev.Amounts))
	}
	return ev, nil
}

func (c *Custody) DecodeDeposited(log gtypes.Log) (FundsDeposited, error) {
	var ev FundsDeposited
	if err := c.unpackEvent(&ev, EventFundsDeposited, log); err != nil {
		return FundsDeposited{}, err
	}
	return ev, nil
}

func (c *Custody) unpackEvent(out interface{}, kind EventKind, log gtypes.Log) error {
	topic, err := c.EventTopic(kind)
	if err != nil {
		return err
	}
	if len(log.Topics) == 0 || log.Topics[0] != topic {
		return fmt.Errorf("log %s is not a %s event", log.TxHash.Hex(), kind)
	}
	if err := c.abi.UnpackIntoInterface(out, string(kind), log.Data); err != nil {
		return fmt.Errorf("failed to decode %s event in %s: %w", kind, log.TxHash.Hex(), err)
	}
	return nil
}
