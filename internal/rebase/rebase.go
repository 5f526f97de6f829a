// Package rebase implements the elastic/base pair that converts between
// pool shares and underlying asset amounts with a floating exchange
// rate.
//
// Base counts shares; Elastic counts underlying units. The exchange
// rate Elastic/Base only moves when interest is folded in through
// IncreaseElastic, so every holder's claim appreciates without new
// issuance. The single hard invariant is Base == 0 ⇔ Elastic == 0.
//
// Rounding always favors the pool: deposits round minted shares down,
// withdrawals round the returned amount down, and debt-side operations
// round against the borrower. Repeated round-trips can therefore never
// leak value out of the pool.
package rebase

import (
	"errors"

	"github.com/interest-protocol/silo/internal/fixedpoint"
)

var (
	// ErrInsufficientBase is returned when more shares are removed than exist.
	ErrInsufficientBase = errors.New("rebase: insufficient base")

	// ErrInsufficientElastic is returned when more underlying is removed
	// than the pair tracks.
	ErrInsufficientElastic = errors.New("rebase: insufficient elastic")
)

// Rebase is a base/elastic pair. The zero value is a valid empty pair.
type Rebase struct {
	Base    uint64 `json:"base" db:"base"`
	Elastic uint64 `json:"elastic" db:"elastic"`
}

// AddElastic records a deposit of amount underlying units and returns
// the shares minted for it. The first deposit into an empty pair mints
// 1:1. roundUp selects ceiling rounding for the minted shares; deposits
// pass false so the fractional unit stays with the pool.
func (r *Rebase) AddElastic(amount uint64, roundUp bool) (uint64, error) {
	var shares uint64
	if r.Base == 0 {
		shares = amount
	} else {
		var err error
		shares, err = fixedpoint.MulDiv(amount, r.Base, r.Elastic, roundUp)
		if err != nil {
			return 0, err
		}
	}
	elastic, err := fixedpoint.CheckedAdd(r.Elastic, amount)
	if err != nil {
		return 0, err
	}
	base, err := fixedpoint.CheckedAdd(r.Base, shares)
	if err != nil {
		return 0, err
	}
	r.Elastic = elastic
	r.Base = base
	return shares, nil
}

// SubBase removes shares from the pair and returns the underlying
// amount they redeem for. Withdrawals pass roundUp=false so the
// returned amount truncates in the pool's favor; repayments pass true
// so the amount charged rounds against the payer.
func (r *Rebase) SubBase(shares uint64, roundUp bool) (uint64, error) {
	if shares > r.Base {
		return 0, ErrInsufficientBase
	}
	amount, err := fixedpoint.MulDiv(shares, r.Elastic, r.Base, roundUp)
	if err != nil {
		return 0, err
	}
	if amount > r.Elastic {
		return 0, ErrInsufficientElastic
	}
	r.Base -= shares
	r.Elastic -= amount
	if r.Base == 0 {
		// Removing the last share claims whatever rounding dust remains.
		amount += r.Elastic
		r.Elastic = 0
	}
	return amount, nil
}

// IncreaseElastic folds amount underlying units into the pair without
// minting shares. This is how accrued interest raises the exchange
// rate for existing holders.
func (r *Rebase) IncreaseElastic(amount uint64) error {
	elastic, err := fixedpoint.CheckedAdd(r.Elastic, amount)
	if err != nil {
		return err
	}
	r.Elastic = elastic
	return nil
}
