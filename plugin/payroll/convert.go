package payroll

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/vultisig/payroll/internal/types"
)

// TokenDecimals is the number of decimal places of the native token.
const TokenDecimals = 18

const (
	// uint256 values have at most 78 decimal digits.
	maxAmountDigits = 78
	// maxSignificantDigits bounds the coefficient of caller supplied amounts.
	maxSignificantDigits = 96
)

var (
	bigZero = big.NewInt(0)
	bigTen  = big.NewInt(10)
)

// FiatToToken converts a fiat amount into token minor units at the given rate.
// The exact quotient is rounded half-to-even at the minor-unit boundary, so the
// result never depends on binary floating point.
func FiatToToken(fiat decimal.Decimal, rate types.ExchangeRate) (*big.Int, error) {
	if !rate.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price %s", ErrInvalidRate, rate.Price)
	}
	if fiat.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, shortString(fiat))
	}
	if fiat.IsZero() {
		return new(big.Int), nil
	}
	fiatDigits := digits(fiat.Coefficient())
	if fiatDigits > maxSignificantDigits {
		return nil, fmt.Errorf("%w: more than %d significant digits", ErrAmountTooLarge, maxSignificantDigits)
	}

	// the result lies in (10^(mag-1), 10^(mag+1))
	mag := int64(fiatDigits) + int64(fiat.Exponent()) -
		int64(digits(rate.Price.Coefficient())) - int64(rate.Price.Exponent()) + TokenDecimals
	if mag > maxAmountDigits {
		return nil, fmt.Errorf("%w: %s at price %s", ErrAmountTooLarge, shortString(fiat), rate.Price)
	}
	if mag < -1 {
		return new(big.Int), nil
	}

	// fiat = f * 10^fe, price = p * 10^pe
	// minor = f * 10^(fe + decimals - pe) / p
	num := new(big.Int).Set(fiat.Coefficient())
	den := new(big.Int).Set(rate.Price.Coefficient())

	shift := int64(fiat.Exponent()) + TokenDecimals - int64(rate.Price.Exponent())
	if shift >= 0 {
		num.Mul(num, pow10(shift))
	} else {
		den.Mul(den, pow10(-shift))
	}

	amount := quoHalfEven(num, den)
	if amount.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: %s at price %s", ErrAmountTooLarge, shortString(fiat), rate.Price)
	}
	return amount, nil
}

// TokenToFiat converts token minor units back to fiat at the given rate. The
// product is exact; callers decide how to round for display.
func TokenToFiat(amount *big.Int, rate types.ExchangeRate) (decimal.Decimal, error) {
	if !rate.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %s", ErrInvalidRate, rate.Price)
	}
	if amount == nil {
		return decimal.Zero, nil
	}
	if amount.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}

	return decimal.NewFromBigInt(amount, -TokenDecimals).Mul(rate.Price), nil
}

// ParseTokenAmount parses a decimal token quantity ("1.5") into minor units.
// More than TokenDecimals fractional digits is an error rather than a silent
// truncation.
func ParseTokenAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	if d.IsZero() {
		return new(big.Int), nil
	}

	n := digits(d.Coefficient())
	if n > maxSignificantDigits {
		return nil, fmt.Errorf("%w: more than %d significant digits", ErrAmountTooLarge, maxSignificantDigits)
	}
	exp := int64(d.Exponent()) + TokenDecimals
	if int64(n)+exp > maxAmountDigits {
		return nil, fmt.Errorf("%w: token amount %s", ErrAmountTooLarge, shortString(d))
	}
	// a coefficient this short cannot absorb the missing decimals
	if exp < -maxSignificantDigits {
		return nil, fmt.Errorf("token amount %s has more than %d decimals", shortString(d), TokenDecimals)
	}

	scaled := d.Shift(TokenDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("token amount %q has more than %d decimals", s, TokenDecimals)
	}

	amount := scaled.BigInt()
	if amount.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: token amount %s", ErrAmountTooLarge, s)
	}
	return amount, nil
}

// FormatTokenAmount renders minor units as a whole-token decimal string.
func FormatTokenAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -TokenDecimals).String()
}

// SumAmounts adds minor-unit amounts without loss of precision.
func SumAmounts(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, amount := range amounts {
		if amount != nil {
			total.Add(total, amount)
		}
	}
	return total
}

func digits(x *big.Int) int {
	return len(new(big.Int).Abs(x).Text(10))
}

// shortString formats d without expanding extreme exponents.
func shortString(d decimal.Decimal) string {
	if e := d.Exponent(); e > maxSignificantDigits || e < -maxSignificantDigits {
		return fmt.Sprintf("%se%d", d.Coefficient(), e)
	}
	return d.String()
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(n), nil)
}

// quoHalfEven returns num/den rounded half to even. Both operands are
// non-negative and den is non-zero.
func quoHalfEven(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() == 0 {
		return q
	}

	twice := new(big.Int).Lsh(r, 1)
	switch twice.Cmp(den) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}
