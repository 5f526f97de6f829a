// Package model defines the core domain types shared across the silo
// engine. Asset amounts are raw uint64 units; per-share reward indices
// and reward checkpoints are uint256 because they accumulate a
// decimals-factor of extra precision.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/holiman/uint256"

	"github.com/interest-protocol/silo/internal/interest"
	"github.com/interest-protocol/silo/internal/rebase"
)

// Side selects one asset of the market pair.
type Side string

const (
	SideX Side = "x"
	SideY Side = "y"
)

var (
	// ErrInvalidSide is returned when a request names a side other than x or y.
	ErrInvalidSide = errors.New("model: side must be x or y")

	// ErrInvalidAsset is returned when an asset type identity fails validation.
	ErrInvalidAsset = errors.New("model: invalid asset type")

	// ErrUnorderedAssetPair is returned when a pair is supplied in
	// non-canonical order. Canonicalization keeps a pair and its
	// reverse from producing two markets.
	ErrUnorderedAssetPair = errors.New("model: asset pair must be in canonical order")
)

// assetRegex matches a fully qualified coin type:
// {hex address}::{module}::{Struct}, e.g. 0x2::sui::SUI.
var assetRegex = regexp.MustCompile(`^0x[0-9a-f]+::[a-z_][a-z0-9_]*::[A-Z][A-Za-z0-9_]*$`)

// ValidSide reports whether s names a market side.
func ValidSide(s Side) bool { return s == SideX || s == SideY }

// PairKey validates both asset identities and returns the canonical
// registry key for the pair. The pair must already be in canonical
// (lexicographic) order; a reversed pair is rejected before any state
// is touched.
func PairKey(assetX, assetY string) (string, error) {
	if !assetRegex.MatchString(assetX) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAsset, assetX)
	}
	if !assetRegex.MatchString(assetY) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAsset, assetY)
	}
	if assetX >= assetY {
		return "", fmt.Errorf("%w: %s / %s", ErrUnorderedAssetPair, assetX, assetY)
	}
	return assetX + ":" + assetY, nil
}

// CoinData carries the full accounting state for one asset side:
// both rebases, the rate curve, reward emission and indices, and the
// reserve bookkeeping. Mutated only by accrual and the ledger ops.
type CoinData struct {
	CollateralRebase rebase.Rebase  `json:"collateral_rebase"`
	LoanRebase       rebase.Rebase  `json:"loan_rebase"`
	Curve            interest.Curve `json:"curve"`

	// IPXPerMs is the reward emission rate, split evenly between the
	// collateral and loan sides each accrual interval.
	IPXPerMs uint64 `json:"ipx_per_ms"`

	AccruedCollateralRewardsPerShare *uint256.Int `json:"accrued_collateral_rewards_per_share"`
	AccruedLoanRewardsPerShare       *uint256.Int `json:"accrued_loan_rewards_per_share"`

	// DecimalsFactor scales the per-share reward math so small pools do
	// not truncate the index to zero.
	DecimalsFactor uint64 `json:"decimals_factor"`

	ReserveFactor    uint64 `json:"reserve_factor"`
	TotalReserves    uint64 `json:"total_reserves"`
	AccruedTimestamp uint64 `json:"accrued_timestamp"`
}

// NewCoinData builds a fresh side with zeroed pools and indices.
func NewCoinData(curve interest.Curve, ipxPerMs, decimalsFactor, reserveFactor, nowMs uint64) *CoinData {
	return &CoinData{
		Curve:                            curve,
		IPXPerMs:                         ipxPerMs,
		AccruedCollateralRewardsPerShare: uint256.NewInt(0),
		AccruedLoanRewardsPerShare:       uint256.NewInt(0),
		DecimalsFactor:                   decimalsFactor,
		ReserveFactor:                    reserveFactor,
		AccruedTimestamp:                 nowMs,
	}
}

// Clone returns a deep copy.
func (c *CoinData) Clone() *CoinData {
	if c == nil {
		return nil
	}
	clone := *c
	clone.AccruedCollateralRewardsPerShare = new(uint256.Int).Set(c.AccruedCollateralRewardsPerShare)
	clone.AccruedLoanRewardsPerShare = new(uint256.Int).Set(c.AccruedLoanRewardsPerShare)
	return &clone
}

// Account is a user's per-side position. Shares is the claim in the
// collateral rebase's base unit, Principal the claim in the loan
// rebase's base unit. The *RewardsPaid checkpoints record the
// per-share index value already settled for this account.
type Account struct {
	Address           string `json:"address" db:"address"`
	Shares            uint64 `json:"shares" db:"shares"`
	Principal         uint64 `json:"principal" db:"principal"`
	CollateralRewards uint64 `json:"collateral_rewards" db:"collateral_rewards"`
	LoanRewards       uint64 `json:"loan_rewards" db:"loan_rewards"`
	CollateralEnabled bool   `json:"collateral_enabled" db:"collateral_enabled"`

	CollateralRewardsPaid *uint256.Int `json:"collateral_rewards_paid"`
	LoanRewardsPaid       *uint256.Int `json:"loan_rewards_paid"`
}

// NewAccount returns a fresh zero-valued account for address. Accounts
// are created lazily on first use and never deleted.
func NewAccount(address string) *Account {
	return &Account{
		Address:               address,
		CollateralRewardsPaid: uint256.NewInt(0),
		LoanRewardsPaid:       uint256.NewInt(0),
	}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.CollateralRewardsPaid = new(uint256.Int).Set(a.CollateralRewardsPaid)
	clone.LoanRewardsPaid = new(uint256.Int).Set(a.LoanRewardsPaid)
	return &clone
}

// Market owns the two asset sides of one canonical pair, the pooled
// cash balances, and the flash-loan re-entrancy lock.
type Market struct {
	ID        string    `json:"id" db:"id"`
	PairKey   string    `json:"pair_key" db:"pair_key"`
	AssetX    string    `json:"asset_x" db:"asset_x"`
	AssetY    string    `json:"asset_y" db:"asset_y"`
	CoinX     *CoinData `json:"coin_x"`
	CoinY     *CoinData `json:"coin_y"`
	BalanceX  uint64    `json:"balance_x" db:"balance_x"`
	BalanceY  uint64    `json:"balance_y" db:"balance_y"`
	Locked    bool      `json:"locked" db:"locked"`
	Admin     string    `json:"admin" db:"admin"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Coin returns the CoinData for side.
func (m *Market) Coin(side Side) *CoinData {
	if side == SideX {
		return m.CoinX
	}
	return m.CoinY
}

// Balance returns the pooled cash for side.
func (m *Market) Balance(side Side) uint64 {
	if side == SideX {
		return m.BalanceX
	}
	return m.BalanceY
}

// SetBalance updates the pooled cash for side.
func (m *Market) SetBalance(side Side, balance uint64) {
	if side == SideX {
		m.BalanceX = balance
	} else {
		m.BalanceY = balance
	}
}

// Clone returns a deep copy.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.CoinX = m.CoinX.Clone()
	clone.CoinY = m.CoinY.Clone()
	return &clone
}

// Event kinds appended to the market's immutable event log and pushed
// to websocket subscribers.
const (
	EventNewSilo  = "new_silo"
	EventDeposit  = "deposit"
	EventWithdraw = "withdraw"
	EventBorrow   = "borrow"
	EventRepay    = "repay"
	EventNewAdmin = "new_admin"
	EventLock     = "lock"
	EventUnlock   = "unlock"
)

// Event is an immutable record of a committed operation. Once
// appended, events are never modified or deleted.
type Event struct {
	ID             string    `json:"id" db:"id"`
	MarketID       string    `json:"market_id" db:"market_id"`
	Type           string    `json:"type" db:"type"`
	Side           Side      `json:"side,omitempty" db:"side"`
	Sender         string    `json:"sender,omitempty" db:"sender"`
	Amount         uint64    `json:"amount,omitempty" db:"amount"`
	Shares         uint64    `json:"shares,omitempty" db:"shares"`
	PendingRewards uint64    `json:"pending_rewards,omitempty" db:"pending_rewards"`
	Admin          string    `json:"admin,omitempty" db:"admin"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}
