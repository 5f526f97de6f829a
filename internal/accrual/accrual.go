// Package accrual advances a market side's interest and reward
// accumulators over elapsed time.
//
// Accrual is pull-based: there is no background timer, every
// balance-mutating operation settles the side it touches before
// reading or writing any accumulator. Accrue is idempotent at an
// unchanged timestamp and rejects a clock that moves backwards, so
// calling it at the top of every entry point is always safe.
package accrual

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/interest-protocol/silo/internal/fixedpoint"
	"github.com/interest-protocol/silo/internal/model"
)

// ErrClockRegression is returned when the supplied timestamp is earlier
// than the side's last accrual point. The time source must be monotonic.
var ErrClockRegression = errors.New("accrual: timestamp earlier than last accrual")

// Accrue brings coin up to nowMs. cash is the pooled liquidity of the
// side's asset, needed for the utilization input to the rate curve.
//
// Interest grows the loan rebase's elastic by the full amount owed and
// the collateral rebase's elastic by the same amount net of the
// reserve cut. Rewards accrue to both per-share indices, split evenly,
// with any odd unit going to the loan side. An interval during which a
// side has zero shares distributes nothing to that side and the
// interval's rewards are dropped, not banked.
func Accrue(coin *model.CoinData, nowMs, cash uint64) error {
	if nowMs == coin.AccruedTimestamp {
		return nil
	}
	if nowMs < coin.AccruedTimestamp {
		return ErrClockRegression
	}
	delta := nowMs - coin.AccruedTimestamp

	ratePerMs, err := coin.Curve.BorrowRatePerMs(cash, coin.LoanRebase.Elastic, coin.TotalReserves)
	if err != nil {
		return err
	}
	interestPerUnit, err := fixedpoint.CheckedMul(delta, ratePerMs)
	if err != nil {
		return err
	}
	interestAmount, err := fixedpoint.Mul(interestPerUnit, coin.LoanRebase.Elastic)
	if err != nil {
		return err
	}
	reserveCut, err := fixedpoint.Mul(interestAmount, coin.ReserveFactor)
	if err != nil {
		return err
	}

	if err := coin.LoanRebase.IncreaseElastic(interestAmount); err != nil {
		return err
	}
	supplierCut := interestAmount - reserveCut
	if coin.CollateralRebase.Base != 0 {
		if err := coin.CollateralRebase.IncreaseElastic(supplierCut); err != nil {
			return err
		}
	} else {
		// No suppliers to credit; route the net interest to reserves so
		// value is not created out of thin air for a future depositor.
		reserveCut = interestAmount
	}
	totalReserves, err := fixedpoint.CheckedAdd(coin.TotalReserves, reserveCut)
	if err != nil {
		return err
	}
	coin.TotalReserves = totalReserves
	coin.AccruedTimestamp = nowMs

	return accrueRewards(coin, delta)
}

func accrueRewards(coin *model.CoinData, delta uint64) error {
	totalReward, err := fixedpoint.CheckedMul(delta, coin.IPXPerMs)
	if err != nil {
		return err
	}
	if totalReward == 0 {
		return nil
	}
	collateralReward := totalReward / 2
	loanReward := totalReward - collateralReward

	if coin.CollateralRebase.Base != 0 {
		if err := bumpIndex(coin.AccruedCollateralRewardsPerShare,
			collateralReward, coin.DecimalsFactor, coin.CollateralRebase.Base); err != nil {
			return err
		}
	}
	if coin.LoanRebase.Base != 0 {
		if err := bumpIndex(coin.AccruedLoanRewardsPerShare,
			loanReward, coin.DecimalsFactor, coin.LoanRebase.Base); err != nil {
			return err
		}
	}
	return nil
}

// bumpIndex adds reward*decimalsFactor/base to the per-share index.
func bumpIndex(index *uint256.Int, reward, decimalsFactor, base uint64) error {
	step, err := fixedpoint.BigMulDiv(uint256.NewInt(reward), decimalsFactor, base)
	if err != nil {
		return err
	}
	if _, overflow := index.AddOverflow(index, step); overflow {
		return fixedpoint.ErrOverflow
	}
	return nil
}
