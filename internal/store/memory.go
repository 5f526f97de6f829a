package store

import (
	"context"
	"sync"

	"github.com/interest-protocol/silo/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	markets  map[string]*model.Market
	byPair   map[string]string
	accounts map[string]*model.Account
	events   []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[string]*model.Market),
		byPair:   make(map[string]string),
		accounts: make(map[string]*model.Account),
	}
}

func accountKey(marketID string, side model.Side, address string) string {
	return marketID + "|" + string(side) + "|" + address
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPair[m.PairKey]; ok {
		return ErrMarketExists
	}
	s.markets[m.ID] = m.Clone()
	s.byPair[m.PairKey] = m.ID
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) GetMarketByPair(_ context.Context, pairKey string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[pairKey]
	if !ok {
		return nil, ErrNotFound
	}
	return s.markets[id].Clone(), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m.Clone())
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return ErrNotFound
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, marketID string, side model.Side, address string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountKey(marketID, side, address)]
	if !ok {
		return nil, ErrNotFound
	}
	return acct.Clone(), nil
}

func (s *MemoryStore) PutAccount(_ context.Context, marketID string, side model.Side, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[accountKey(marketID, side, acct.Address)] = acct.Clone()
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) EventsByMarket(_ context.Context, marketID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, ev := range s.events {
		if ev.MarketID == marketID {
			result = append(result, ev)
		}
	}
	return result, nil
}
