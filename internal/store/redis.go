package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interest-protocol/silo/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, pairKeyKey(m.PairKey), m.ID, s.ttl)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate; the next read re-populates.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) PutAccount(ctx context.Context, marketID string, side model.Side, acct *model.Account) error {
	if err := s.primary.PutAccount(ctx, marketID, side, acct); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountCacheKey(marketID, side, acct.Address))
	return nil
}

func (s *CachedStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	return s.primary.AppendEvent(ctx, ev)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByPair(ctx context.Context, pairKey string) (*model.Market, error) {
	id, err := s.rdb.Get(ctx, pairKeyKey(pairKey)).Result()
	if err == nil {
		return s.GetMarket(ctx, id)
	}

	m, err := s.primary.GetMarketByPair(ctx, pairKey)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, pairKeyKey(pairKey), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, marketID string, side model.Side, address string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountCacheKey(marketID, side, address)).Bytes()
	if err == nil {
		var acct model.Account
		if json.Unmarshal(data, &acct) == nil {
			return &acct, nil
		}
	}

	acct, err := s.primary.GetAccount(ctx, marketID, side, address)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(acct); err == nil {
		s.rdb.Set(ctx, accountCacheKey(marketID, side, address), data, s.ttl)
	}
	return acct, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) EventsByMarket(ctx context.Context, marketID string) ([]model.Event, error) {
	return s.primary.EventsByMarket(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string    { return fmt.Sprintf("silo:market:%s", id) }
func pairKeyKey(pair string) string { return fmt.Sprintf("silo:pair:%s", pair) }
func accountCacheKey(marketID string, side model.Side, address string) string {
	return fmt.Sprintf("silo:account:%s:%s:%s", marketID, side, address)
}
