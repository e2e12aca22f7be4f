package payroll

import (
	"fmt"
	"math/big"
)

// EnsureFundsAvailable succeeds iff needed <= available. A nil available
// balance counts as zero. It has no side effects; callers must pass a balance
// fetched immediately before submission.
func EnsureFundsAvailable(needed, available *big.Int) error {
	if needed == nil {
		needed = bigZero
	}
	if available == nil {
		available = bigZero
	}

	if needed.Cmp(available) > 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds,
			FormatTokenAmount(needed), FormatTokenAmount(available))
	}
	return nil
}
