// Package interest computes per-millisecond borrow and supply rates
// from pool utilization using a kinked linear curve.
//
// All rates and curve parameters are fixedpoint.Scale-scaled fractions.
// Below the kink the borrow rate climbs at MultiplierPerMs per unit of
// utilization; past it the JumpMultiplierPerMs slope takes over to
// discourage draining the pool.
package interest

import (
	"errors"

	"github.com/interest-protocol/silo/internal/fixedpoint"
)

// ErrInsufficientLiquidity is returned when reserves exceed pooled cash
// plus outstanding borrows. That state is an accounting invariant break
// upstream, so it aborts rather than producing a garbage utilization.
var ErrInsufficientLiquidity = errors.New("interest: reserves exceed pooled liquidity")

// Curve holds the kinked-rate parameters for one asset side.
type Curve struct {
	BaseRatePerMs       uint64 `json:"base_rate_per_ms" yaml:"base_rate_per_ms"`
	MultiplierPerMs     uint64 `json:"multiplier_per_ms" yaml:"multiplier_per_ms"`
	JumpMultiplierPerMs uint64 `json:"jump_multiplier_per_ms" yaml:"jump_multiplier_per_ms"`
	Kink                uint64 `json:"kink" yaml:"kink"`
}

// Utilization returns totalBorrow / (cash + totalBorrow - reserves) at
// the fixed-point scale. A pool with nothing borrowed has utilization
// zero without touching the division.
func Utilization(cash, totalBorrow, reserves uint64) (uint64, error) {
	if totalBorrow == 0 {
		return 0, nil
	}
	liquidity, err := fixedpoint.CheckedAdd(cash, totalBorrow)
	if err != nil {
		return 0, err
	}
	if reserves > liquidity {
		return 0, ErrInsufficientLiquidity
	}
	return fixedpoint.Div(totalBorrow, liquidity-reserves)
}

// BorrowRatePerMs evaluates the kinked curve at the current utilization.
func (c Curve) BorrowRatePerMs(cash, totalBorrow, reserves uint64) (uint64, error) {
	u, err := Utilization(cash, totalBorrow, reserves)
	if err != nil {
		return 0, err
	}
	if u <= c.Kink {
		slope, err := fixedpoint.Mul(u, c.MultiplierPerMs)
		if err != nil {
			return 0, err
		}
		return fixedpoint.CheckedAdd(slope, c.BaseRatePerMs)
	}
	normalSlope, err := fixedpoint.Mul(c.Kink, c.MultiplierPerMs)
	if err != nil {
		return 0, err
	}
	normal, err := fixedpoint.CheckedAdd(normalSlope, c.BaseRatePerMs)
	if err != nil {
		return 0, err
	}
	excess, err := fixedpoint.Mul(u-c.Kink, c.JumpMultiplierPerMs)
	if err != nil {
		return 0, err
	}
	return fixedpoint.CheckedAdd(excess, normal)
}

// SupplyRatePerMs is the borrow rate net of the protocol reserve cut,
// scaled by utilization. Idle cash earns nothing.
func (c Curve) SupplyRatePerMs(cash, totalBorrow, reserves, reserveFactor uint64) (uint64, error) {
	borrowRate, err := c.BorrowRatePerMs(cash, totalBorrow, reserves)
	if err != nil {
		return 0, err
	}
	if reserveFactor > fixedpoint.Scale {
		reserveFactor = fixedpoint.Scale
	}
	netRate, err := fixedpoint.Mul(borrowRate, fixedpoint.Scale-reserveFactor)
	if err != nil {
		return 0, err
	}
	u, err := Utilization(cash, totalBorrow, reserves)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Mul(u, netRate)
}
