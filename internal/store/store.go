// Package store defines the persistence interface for the silo engine.
// Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/interest-protocol/silo/internal/model"
)

var (
	// ErrNotFound is returned when a market or account does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrMarketExists is returned when a market for the same canonical
	// pair key already exists. The store is the pair registry: one
	// market per ordered pair.
	ErrMarketExists = errors.New("store: market for pair already exists")
)

// Store is the persistence interface. It doubles as the pair registry
// (CreateMarket enforces one market per canonical pair key) and the
// per-user account storage collaborator (accounts are looked up and
// created lazily by address).
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market, rejecting duplicate pair keys.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketByPair retrieves a market by its canonical pair key.
	GetMarketByPair(ctx context.Context, pairKey string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket persists the market's accounting state after an
	// operation: coin data, balances, lock flag, admin.
	UpdateMarket(ctx context.Context, m *model.Market) error

	// --- Accounts ---

	// GetAccount retrieves a user's per-side account. Returns
	// ErrNotFound for addresses that have never acted on the market.
	GetAccount(ctx context.Context, marketID string, side model.Side, address string) (*model.Account, error)

	// PutAccount inserts or updates a user's per-side account.
	PutAccount(ctx context.Context, marketID string, side model.Side, acct *model.Account) error

	// --- Immutable event log ---

	// AppendEvent appends an immutable operation record.
	AppendEvent(ctx context.Context, ev *model.Event) error

	// EventsByMarket returns all events for a market in append order.
	EventsByMarket(ctx context.Context, marketID string) ([]model.Event, error)
}
