// Package ledger applies user-level deposit, withdraw, borrow and
// repay effects against an already-accrued asset side.
//
// Every operation that changes an account's shares or principal first
// settles pending rewards against the pre-change balance and then
// re-checkpoints against the post-change balance. Callers must run the
// accrual engine before invoking any of these; the functions here only
// ever read current accumulators.
package ledger

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/interest-protocol/silo/internal/fixedpoint"
	"github.com/interest-protocol/silo/internal/model"
)

var (
	// ErrZeroAmount is returned when an operation carries no value.
	ErrZeroAmount = errors.New("ledger: amount must be positive")

	// ErrInsufficientShares is returned when an account redeems or
	// repays more than it holds.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
)

// Result reports the outcome of a ledger operation. Amount is the
// underlying value moved, Shares the base units minted or burned, and
// PendingRewards the rewards settled into the account's banked balance
// by this operation.
type Result struct {
	Amount         uint64
	Shares         uint64
	PendingRewards uint64
}

// Deposit mints collateral shares for amount underlying units.
func Deposit(coin *model.CoinData, acct *model.Account, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, ErrZeroAmount
	}
	pending, err := pendingRewards(acct.Shares, coin.AccruedCollateralRewardsPerShare,
		coin.DecimalsFactor, acct.CollateralRewardsPaid)
	if err != nil {
		return Result{}, err
	}
	shares, err := coin.CollateralRebase.AddElastic(amount, false)
	if err != nil {
		return Result{}, err
	}
	newShares, err := fixedpoint.CheckedAdd(acct.Shares, shares)
	if err != nil {
		return Result{}, err
	}
	acct.Shares = newShares
	if err := settleCollateral(coin, acct, pending); err != nil {
		return Result{}, err
	}
	return Result{Amount: amount, Shares: shares, PendingRewards: pending}, nil
}

// Withdraw burns shares and returns the underlying amount redeemed,
// rounded down so the fractional unit stays with the pool.
func Withdraw(coin *model.CoinData, acct *model.Account, shares uint64) (Result, error) {
	if shares == 0 {
		return Result{}, ErrZeroAmount
	}
	if shares > acct.Shares {
		return Result{}, ErrInsufficientShares
	}
	pending, err := pendingRewards(acct.Shares, coin.AccruedCollateralRewardsPerShare,
		coin.DecimalsFactor, acct.CollateralRewardsPaid)
	if err != nil {
		return Result{}, err
	}
	amount, err := coin.CollateralRebase.SubBase(shares, false)
	if err != nil {
		return Result{}, err
	}
	acct.Shares -= shares
	if err := settleCollateral(coin, acct, pending); err != nil {
		return Result{}, err
	}
	return Result{Amount: amount, Shares: shares, PendingRewards: pending}, nil
}

// Borrow mints loan principal for amount underlying units. Principal
// rounds up so the fractional unit of debt lands on the borrower.
func Borrow(coin *model.CoinData, acct *model.Account, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, ErrZeroAmount
	}
	pending, err := pendingRewards(acct.Principal, coin.AccruedLoanRewardsPerShare,
		coin.DecimalsFactor, acct.LoanRewardsPaid)
	if err != nil {
		return Result{}, err
	}
	principal, err := coin.LoanRebase.AddElastic(amount, true)
	if err != nil {
		return Result{}, err
	}
	newPrincipal, err := fixedpoint.CheckedAdd(acct.Principal, principal)
	if err != nil {
		return Result{}, err
	}
	acct.Principal = newPrincipal
	if err := settleLoan(coin, acct, pending); err != nil {
		return Result{}, err
	}
	return Result{Amount: amount, Shares: principal, PendingRewards: pending}, nil
}

// Repay burns principal and returns the underlying amount owed for it,
// rounded up against the repayer.
func Repay(coin *model.CoinData, acct *model.Account, principal uint64) (Result, error) {
	if principal == 0 {
		return Result{}, ErrZeroAmount
	}
	if principal > acct.Principal {
		return Result{}, ErrInsufficientShares
	}
	pending, err := pendingRewards(acct.Principal, coin.AccruedLoanRewardsPerShare,
		coin.DecimalsFactor, acct.LoanRewardsPaid)
	if err != nil {
		return Result{}, err
	}
	amount, err := coin.LoanRebase.SubBase(principal, true)
	if err != nil {
		return Result{}, err
	}
	acct.Principal -= principal
	if err := settleLoan(coin, acct, pending); err != nil {
		return Result{}, err
	}
	return Result{Amount: amount, Shares: principal, PendingRewards: pending}, nil
}

// PendingCollateralRewards returns the rewards the account would settle
// if it acted now, without mutating anything. Used by read endpoints.
func PendingCollateralRewards(coin *model.CoinData, acct *model.Account) (uint64, error) {
	return pendingRewards(acct.Shares, coin.AccruedCollateralRewardsPerShare,
		coin.DecimalsFactor, acct.CollateralRewardsPaid)
}

// PendingLoanRewards is the loan-side counterpart of
// PendingCollateralRewards.
func PendingLoanRewards(coin *model.CoinData, acct *model.Account) (uint64, error) {
	return pendingRewards(acct.Principal, coin.AccruedLoanRewardsPerShare,
		coin.DecimalsFactor, acct.LoanRewardsPaid)
}

// pendingRewards computes balance*index/decimalsFactor - paid: the
// accumulator-minus-checkpoint formula. A zero balance pends nothing.
func pendingRewards(balance uint64, index *uint256.Int, decimalsFactor uint64, paid *uint256.Int) (uint64, error) {
	if balance == 0 {
		return 0, nil
	}
	earned, err := fixedpoint.BigMulDiv(index, balance, decimalsFactor)
	if err != nil {
		return 0, err
	}
	if earned.Lt(paid) {
		// The checkpoint can never run ahead of the index for an
		// unchanged balance; seeing it means corrupted state.
		return 0, fixedpoint.ErrOverflow
	}
	pending := new(uint256.Int).Sub(earned, paid)
	if !pending.IsUint64() {
		return 0, fixedpoint.ErrOverflow
	}
	return pending.Uint64(), nil
}

// settleCollateral re-checkpoints the collateral side against the
// account's post-change share balance and banks the settled rewards.
func settleCollateral(coin *model.CoinData, acct *model.Account, pending uint64) error {
	paid, err := fixedpoint.BigMulDiv(coin.AccruedCollateralRewardsPerShare,
		acct.Shares, coin.DecimalsFactor)
	if err != nil {
		return err
	}
	rewards, err := fixedpoint.CheckedAdd(acct.CollateralRewards, pending)
	if err != nil {
		return err
	}
	acct.CollateralRewardsPaid = paid
	acct.CollateralRewards = rewards
	return nil
}

// settleLoan is the loan-side counterpart of settleCollateral.
func settleLoan(coin *model.CoinData, acct *model.Account, pending uint64) error {
	paid, err := fixedpoint.BigMulDiv(coin.AccruedLoanRewardsPerShare,
		acct.Principal, coin.DecimalsFactor)
	if err != nil {
		return err
	}
	rewards, err := fixedpoint.CheckedAdd(acct.LoanRewards, pending)
	if err != nil {
		return err
	}
	acct.LoanRewardsPaid = paid
	acct.LoanRewards = rewards
	return nil
}
