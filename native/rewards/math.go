package rewards

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Two fixed-point scales are in play. Balances, speeds and accrued rewards
// carry 18 fractional digits; indices carry 36 so that small per-block
// increments survive division by large supplies.
var (
	mantissa         = uint256.NewInt(1_000_000_000_000_000_000)
	indexMantissa    = new(uint256.Int).Mul(mantissa, mantissa)
	indexToMantissa  = new(uint256.Int).Div(indexMantissa, mantissa)
	mantissaBig      = mantissa.ToBig()
	indexMantissaBig = indexMantissa.ToBig()
)

// Mantissa returns 1e18, the scale of balances, speeds and rewards.
func Mantissa() *big.Int {
	return new(big.Int).Set(mantissaBig)
}

// IndexMantissa returns 1e36, the scale of market and participant indices.
// A fresh market index starts at this value ("1.0").
func IndexMantissa() *big.Int {
	return new(big.Int).Set(indexMantissaBig)
}

// toU256 lifts a big integer into the 256-bit working width. Nil is zero.
func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative operand %s", ErrArithmeticOverflow, v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: operand exceeds 256 bits", ErrArithmeticOverflow)
	}
	return out, nil
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// mulDiv computes x*y/d through a 512-bit intermediate, truncating.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// indexDelta converts the growth between two IndexMantissa-scaled values into
// a Mantissa-scaled amount.
func indexDelta(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, fmt.Errorf("%w: index %s below %s", ErrUnderflow, a.Dec(), b.Dec())
	}
	diff := new(uint256.Int).Sub(a, b)
	return diff.Div(diff, indexToMantissa), nil
}

// IndexDelta computes (a - b) / (IndexMantissa / Mantissa). It fails with
// ErrUnderflow when a < b.
func IndexDelta(a, b *big.Int) (*big.Int, error) {
	au, err := toU256(a)
	if err != nil {
		return nil, err
	}
	bu, err := toU256(b)
	if err != nil {
		return nil, err
	}
	delta, err := indexDelta(au, bu)
	if err != nil {
		return nil, err
	}
	return delta.ToBig(), nil
}

// NormalizeBorrow expresses a stored borrow amount in principal terms by
// dividing out the market's own borrow index (Mantissa scaled).
func NormalizeBorrow(amount, borrowIndex *big.Int) (*big.Int, error) {
	if borrowIndex == nil || borrowIndex.Sign() == 0 {
		return nil, fmt.Errorf("%w: market borrow index is zero", ErrInvariantViolation)
	}
	au, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	iu, err := toU256(borrowIndex)
	if err != nil {
		return nil, err
	}
	out, err := mulDiv(au, mantissa, iu)
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}
