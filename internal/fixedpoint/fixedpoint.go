// Package fixedpoint provides deterministic fixed-point arithmetic at a
// 1e18 scale for all money math in the silo engine.
//
// Every multiply and divide routes through uint256 so intermediate
// products are computed at full width before narrowing back to uint64.
// Narrowing truncates toward zero; a result that does not fit uint64 is
// reported as ErrOverflow rather than silently wrapped.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Scale is the fixed-point unit: values carrying the scale represent
// x/1e18. Rates, utilization and curve parameters are all Scale-scaled.
const Scale uint64 = 1e18

var (
	// ErrDivisionByZero is returned when a division denominator is zero.
	// Callers are expected to guard empty-pool cases before dividing.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrOverflow is returned when a result does not fit in uint64.
	ErrOverflow = errors.New("fixedpoint: arithmetic overflow")
)

// Mul returns a*b/Scale, truncated.
func Mul(a, b uint64) (uint64, error) {
	return MulDiv(a, b, Scale, false)
}

// Div returns a*Scale/b, truncated.
func Div(a, b uint64) (uint64, error) {
	return MulDiv(a, Scale, b, false)
}

// MulDiv returns a*b/denom with a 256-bit intermediate product.
// When roundUp is set and the division leaves a remainder, the result
// is rounded toward positive infinity instead of truncated.
func MulDiv(a, b, denom uint64, roundUp bool) (uint64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	d := uint256.NewInt(denom)

	quot, rem := new(uint256.Int), new(uint256.Int)
	quot.DivMod(product, d, rem)
	if roundUp && !rem.IsZero() {
		quot.AddUint64(quot, 1)
	}
	if !quot.IsUint64() {
		return 0, ErrOverflow
	}
	return quot.Uint64(), nil
}

// CheckedMul returns a*b without any scaling, failing instead of
// wrapping. Used for raw quantities such as delta*ratePerMs.
func CheckedMul(a, b uint64) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	if !product.IsUint64() {
		return 0, ErrOverflow
	}
	return product.Uint64(), nil
}

// CheckedAdd returns a+b, failing instead of wrapping.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// BigMulDiv returns x*y/denom over uint256 operands, for the per-share
// reward indices that accumulate beyond 64 bits.
func BigMulDiv(x *uint256.Int, y, denom uint64) (*uint256.Int, error) {
	if denom == 0 {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(y), uint256.NewInt(denom))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}
