package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interest-protocol/silo/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. uint64 amounts are stored as NUMERIC and scanned as TEXT so
// no value ever passes through a float; the uint256 reward checkpoints
// travel as decimal strings for the same reason. The per-side CoinData
// aggregate is stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	coinX, err := json.Marshal(m.CoinX)
	if err != nil {
		return err
	}
	coinY, err := json.Marshal(m.CoinY)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, pair_key, asset_x, asset_y, coin_x, coin_y, balance_x, balance_y, locked, admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)
		 ON CONFLICT (pair_key) DO NOTHING`,
		m.ID, m.PairKey, m.AssetX, m.AssetY, coinX, coinY,
		u64(m.BalanceX), u64(m.BalanceY), m.Locked, m.Admin, m.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMarketExists
	}
	return nil
}

const marketColumns = `id, pair_key, asset_x, asset_y, coin_x, coin_y,
       balance_x::TEXT, balance_y::TEXT, locked, admin, created_at`

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	return scanMarket(row)
}

func (s *PostgresStore) GetMarketByPair(ctx context.Context, pairKey string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE pair_key = $1`, pairKey)
	return scanMarket(row)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	coinX, err := json.Marshal(m.CoinX)
	if err != nil {
		return err
	}
	coinY, err := json.Marshal(m.CoinY)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET coin_x = $2, coin_y = $3,
		     balance_x = $4::NUMERIC, balance_y = $5::NUMERIC,
		     locked = $6, admin = $7
		 WHERE id = $1`,
		m.ID, coinX, coinY, u64(m.BalanceX), u64(m.BalanceY), m.Locked, m.Admin,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, marketID string, side model.Side, address string) (*model.Account, error) {
	var (
		acct                                            model.Account
		sharesS, principalS, collRewardsS, loanRewardsS string
		collPaidS, loanPaidS                            string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT address, shares::TEXT, principal::TEXT,
		        collateral_rewards::TEXT, loan_rewards::TEXT, collateral_enabled,
		        collateral_rewards_paid::TEXT, loan_rewards_paid::TEXT
		 FROM accounts WHERE market_id = $1 AND side = $2 AND address = $3`,
		marketID, string(side), address).
		Scan(&acct.Address, &sharesS, &principalS,
			&collRewardsS, &loanRewardsS, &acct.CollateralEnabled,
			&collPaidS, &loanPaidS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s/%s: %w", marketID, side, address, err)
	}

	if acct.Shares, err = strconv.ParseUint(sharesS, 10, 64); err != nil {
		return nil, err
	}
	if acct.Principal, err = strconv.ParseUint(principalS, 10, 64); err != nil {
		return nil, err
	}
	if acct.CollateralRewards, err = strconv.ParseUint(collRewardsS, 10, 64); err != nil {
		return nil, err
	}
	if acct.LoanRewards, err = strconv.ParseUint(loanRewardsS, 10, 64); err != nil {
		return nil, err
	}
	if acct.CollateralRewardsPaid, err = uint256.FromDecimal(collPaidS); err != nil {
		return nil, err
	}
	if acct.LoanRewardsPaid, err = uint256.FromDecimal(loanPaidS); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *PostgresStore) PutAccount(ctx context.Context, marketID string, side model.Side, acct *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (market_id, side, address, shares, principal,
		                       collateral_rewards, loan_rewards, collateral_enabled,
		                       collateral_rewards_paid, loan_rewards_paid)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC)
		 ON CONFLICT (market_id, side, address) DO UPDATE
		 SET shares = EXCLUDED.shares,
		     principal = EXCLUDED.principal,
		     collateral_rewards = EXCLUDED.collateral_rewards,
		     loan_rewards = EXCLUDED.loan_rewards,
		     collateral_enabled = EXCLUDED.collateral_enabled,
		     collateral_rewards_paid = EXCLUDED.collateral_rewards_paid,
		     loan_rewards_paid = EXCLUDED.loan_rewards_paid`,
		marketID, string(side), acct.Address,
		u64(acct.Shares), u64(acct.Principal),
		u64(acct.CollateralRewards), u64(acct.LoanRewards), acct.CollateralEnabled,
		acct.CollateralRewardsPaid.Dec(), acct.LoanRewardsPaid.Dec(),
	)
	return err
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, market_id, type, side, sender, amount, shares, pending_rewards, admin, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		ev.ID, ev.MarketID, ev.Type, string(ev.Side), ev.Sender,
		u64(ev.Amount), u64(ev.Shares), u64(ev.PendingRewards), ev.Admin, ev.Timestamp,
	)
	return err
}

func (s *PostgresStore) EventsByMarket(ctx context.Context, marketID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, type, side, sender,
		        amount::TEXT, shares::TEXT, pending_rewards::TEXT, admin, timestamp
		 FROM events WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			ev                        model.Event
			side                      string
			amountS, sharesS, rewardS string
		)
		if err := rows.Scan(&ev.ID, &ev.MarketID, &ev.Type, &side, &ev.Sender,
			&amountS, &sharesS, &rewardS, &ev.Admin, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Side = model.Side(side)
		if ev.Amount, err = strconv.ParseUint(amountS, 10, 64); err != nil {
			return nil, err
		}
		if ev.Shares, err = strconv.ParseUint(sharesS, 10, 64); err != nil {
			return nil, err
		}
		if ev.PendingRewards, err = strconv.ParseUint(rewardS, 10, 64); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// scanMarket reads one market row from either a Row or Rows.
func scanMarket(row pgx.Row) (*model.Market, error) {
	var (
		m                    model.Market
		coinX, coinY         []byte
		balanceXS, balanceYS string
	)
	err := row.Scan(&m.ID, &m.PairKey, &m.AssetX, &m.AssetY, &coinX, &coinY,
		&balanceXS, &balanceYS, &m.Locked, &m.Admin, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coinX, &m.CoinX); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(coinY, &m.CoinY); err != nil {
		return nil, err
	}
	if m.BalanceX, err = strconv.ParseUint(balanceXS, 10, 64); err != nil {
		return nil, err
	}
	if m.BalanceY, err = strconv.ParseUint(balanceYS, 10, 64); err != nil {
		return nil, err
	}
	return &m, nil
}

// u64 renders a uint64 for NUMERIC parameters without passing through
// any signed or floating type.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
