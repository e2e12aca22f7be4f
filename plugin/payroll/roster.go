package payroll

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/vultisig/payroll/internal/types"
)

// BuildBatch turns a roster into a disbursement batch.
//
// Rows without a name, an address or a positive fiat amount are dropped. A row
// that passes those checks but carries a malformed address fails the whole
// batch: recipients and amounts must stay index-aligned with the operator's
// roster, so nothing is skipped silently. Surviving rows keep their roster
// order.
func BuildBatch(roster []types.PayeeRecord, rate types.ExchangeRate) (types.DisbursementBatch, error) {
	if !rate.Price.IsPositive() {
		return types.DisbursementBatch{}, fmt.Errorf("%w: price %s", ErrInvalidRate, rate.Price)
	}

	eligible := FilterRoster(roster)
	if len(eligible) == 0 {
		return types.DisbursementBatch{}, ErrEmptyBatch
	}

	batch := types.DisbursementBatch{
		Names:       make([]string, 0, len(eligible)),
		Recipients:  make([]common.Address, 0, len(eligible)),
		Amounts:     make([]*big.Int, 0, len(eligible)),
		TotalAmount: new(big.Int),
	}

	for _, payee := range eligible {
		addr, err := ParseAddress(payee.Address)
		if err != nil {
			return types.DisbursementBatch{}, &InvalidAddressError{Name: payee.Name, Address: payee.Address}
		}

		amount, err := FiatToToken(payee.FiatAmount, rate)
		if err != nil {
			return types.DisbursementBatch{}, fmt.Errorf("convert amount for %s: %w", payee.Name, err)
		}
		if amount.Sign() == 0 {
			return types.DisbursementBatch{}, fmt.Errorf("%w: %s", ErrZeroAmount, payee.Name)
		}

		batch.Names = append(batch.Names, payee.Name)
		batch.Recipients = append(batch.Recipients, addr)
		batch.Amounts = append(batch.Amounts, amount)
		batch.TotalAmount.Add(batch.TotalAmount, amount)
	}
	if batch.TotalAmount.Cmp(math.MaxBig256) > 0 {
		return types.DisbursementBatch{}, fmt.Errorf("%w: batch total %s", ErrAmountTooLarge, batch.TotalAmount)
	}

	return batch, nil
}

// FilterRoster returns the rows that carry a name, an address and a positive
// fiat amount, in roster order. Addresses are not validated here.
func FilterRoster(roster []types.PayeeRecord) []types.PayeeRecord {
	eligible := make([]types.PayeeRecord, 0, len(roster))
	for _, payee := range roster {
		if strings.TrimSpace(payee.Name) == "" || strings.TrimSpace(payee.Address) == "" {
			continue
		}
		if !payee.FiatAmount.IsPositive() {
			continue
		}
		eligible = append(eligible, payee)
	}
	return eligible
}

// ParseAddress accepts a 20-byte hex address with 0x prefix. All-lowercase
// and all-uppercase forms are accepted as is; mixed case must carry a valid
// EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("address %q: missing 0x prefix", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("address %q: not a 20-byte hex address", s)
	}

	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		mixed, err := common.NewMixedcaseAddressFromString(s)
		if err != nil {
			return common.Address{}, fmt.Errorf("address %q: %w", s, err)
		}
		if !mixed.ValidChecksum() {
			return common.Address{}, fmt.Errorf("address %q: bad checksum", s)
		}
	}

	return common.HexToAddress(s), nil
}
