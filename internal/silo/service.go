// Package silo provides the HTTP handlers and business logic for
// creating lending markets and executing deposit, withdraw, borrow and
// repay operations against them.
//
// Every balance-mutating entry point follows the same discipline:
// reject while the flash-loan lock is held, accrue the touched side up
// to the operation timestamp, apply the account-level effect, then
// persist and emit the event. An error anywhere aborts the whole
// operation with no partial state, because mutations happen on copies
// loaded from the store and are only written back on success.
package silo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/interest-protocol/silo/internal/accrual"
	"github.com/interest-protocol/silo/internal/config"
	"github.com/interest-protocol/silo/internal/fixedpoint"
	"github.com/interest-protocol/silo/internal/interest"
	"github.com/interest-protocol/silo/internal/ledger"
	"github.com/interest-protocol/silo/internal/metrics"
	"github.com/interest-protocol/silo/internal/model"
	"github.com/interest-protocol/silo/internal/store"
)

var (
	// ErrReentrancyLocked is returned when an operation arrives while
	// the market's flash-loan lock is held.
	ErrReentrancyLocked = errors.New("silo: market locked for flash loan")

	// ErrInvalidAddress is returned when a zero or malformed address is
	// supplied where a real identity is required.
	ErrInvalidAddress = errors.New("silo: invalid address")

	// ErrNotAdmin is returned when a privileged call does not come from
	// the market admin.
	ErrNotAdmin = errors.New("silo: caller is not the market admin")

	// ErrInsufficientLiquidity is returned when an operation needs more
	// pooled cash than the market holds.
	ErrInsufficientLiquidity = errors.New("silo: insufficient pooled liquidity")
)

// addressRegex matches an address-like hex identifier.
var addressRegex = regexp.MustCompile(`^0x[0-9a-f]{1,64}$`)

// validAddress rejects malformed and zero addresses.
func validAddress(addr string) bool {
	if !addressRegex.MatchString(addr) {
		return false
	}
	return strings.Trim(addr[2:], "0") != ""
}

// Service handles market operations. Uses a mutex for serialized
// execution (single-instance): each operation commits fully before the
// next begins, matching the engine's transactional semantics.
type Service struct {
	store  store.Store
	market config.MarketConfig
	hub    *Hub // optional WebSocket hub for committed-event broadcasts
	now    func() time.Time
	mu     sync.Mutex
}

// NewService creates a new silo service. Pass nil for hub if event
// broadcasting is not needed.
func NewService(st store.Store, marketCfg config.MarketConfig, hub *Hub) *Service {
	return &Service{
		store:  st,
		market: marketCfg,
		hub:    hub,
		now:    time.Now,
	}
}

// Routes mounts the service handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/rates", s.GetRates)
	r.Get("/markets/{marketID}/events", s.GetEvents)
	r.Get("/markets/{marketID}/accounts/{address}", s.GetAccount)
	r.Post("/markets/{marketID}/collateral", s.SetCollateral)
	r.Post("/markets/{marketID}/admin", s.TransferAdmin)
	r.Post("/markets/{marketID}/lock", s.Lock)
	r.Post("/markets/{marketID}/unlock", s.Unlock)

	r.Post("/deposit", s.Deposit)
	r.Post("/withdraw", s.Withdraw)
	r.Post("/borrow", s.Borrow)
	r.Post("/repay", s.Repay)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation. Assets must
// be fully qualified coin types in canonical (lexicographic) order.
type CreateMarketRequest struct {
	AssetX string `json:"asset_x"`
	AssetY string `json:"asset_y"`
	Admin  string `json:"admin"`
}

// OperationRequest is the JSON body shared by the four ledger
// operations. Amount carries underlying units for deposit and borrow;
// Shares carries base units for withdraw and repay. TimestampMs is
// optional and defaults to the server clock; it must never move
// backwards for a given market side.
type OperationRequest struct {
	MarketID    string     `json:"market_id"`
	Side        model.Side `json:"side"`
	Sender      string     `json:"sender"`
	Amount      uint64     `json:"amount,omitempty"`
	Shares      uint64     `json:"shares,omitempty"`
	TimestampMs uint64     `json:"timestamp_ms,omitempty"`
}

// AccountSummary is the account snapshot included in operation responses.
type AccountSummary struct {
	Shares            uint64 `json:"shares"`
	Principal         uint64 `json:"principal"`
	CollateralRewards uint64 `json:"collateral_rewards"`
	LoanRewards       uint64 `json:"loan_rewards"`
	CollateralEnabled bool   `json:"collateral_enabled"`
}

// OperationResponse is the JSON body returned from the ledger operations.
type OperationResponse struct {
	MarketID       string         `json:"market_id"`
	Side           model.Side     `json:"side"`
	Sender         string         `json:"sender"`
	Amount         uint64         `json:"amount"`
	Shares         uint64         `json:"shares"`
	PendingRewards uint64         `json:"pending_rewards"`
	Account        AccountSummary `json:"account"`
}

// --- Market lifecycle ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Pair validation and canonicalization happen before any state is
	// touched; a reversed pair never reaches the store.
	pairKey, err := model.PairKey(req.AssetX, req.AssetY)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !validAddress(req.Admin) {
		writeError(w, ErrInvalidAddress.Error(), http.StatusBadRequest)
		return
	}

	curve, err := s.market.Curve()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reserveFactor, err := s.market.ReserveFactorFixed()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	nowMs := uint64(now.UnixMilli())
	market := &model.Market{
		ID:        uuid.New().String(),
		PairKey:   pairKey,
		AssetX:    req.AssetX,
		AssetY:    req.AssetY,
		CoinX:     model.NewCoinData(curve, s.market.IPXPerMs, s.market.DecimalsFactor, reserveFactor, nowMs),
		CoinY:     model.NewCoinData(curve, s.market.IPXPerMs, s.market.DecimalsFactor, reserveFactor, nowMs),
		Admin:     req.Admin,
		CreatedAt: now,
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.CreateMarket(ctx, market); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	s.appendEvent(ctx, &model.Event{
		ID:        uuid.New().String(),
		MarketID:  market.ID,
		Type:      model.EventNewSilo,
		Sender:    req.Admin,
		Timestamp: now,
	})
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"pair", pairKey,
		"admin", req.Admin,
	)

	if s.hub != nil {
		s.hub.Broadcast(EventMessage{Type: model.EventNewSilo, MarketID: market.ID})
	}

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetEvents handles GET /api/v1/markets/{marketID}/events
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.EventsByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// RatesResponse presents a side's current rates. The per-ms values are
// the engine's fixed-point numbers; the APR strings are their
// human-readable per-year equivalents.
type RatesResponse struct {
	Side            model.Side `json:"side"`
	Utilization     string     `json:"utilization"`
	BorrowRatePerMs uint64     `json:"borrow_rate_per_ms"`
	SupplyRatePerMs uint64     `json:"supply_rate_per_ms"`
	BorrowAPR       string     `json:"borrow_apr"`
	SupplyAPR       string     `json:"supply_apr"`
}

// GetRates handles GET /api/v1/markets/{marketID}/rates?side=x|y
func (s *Service) GetRates(w http.ResponseWriter, r *http.Request) {
	side := model.Side(r.URL.Query().Get("side"))
	if !model.ValidSide(side) {
		writeError(w, model.ErrInvalidSide.Error(), http.StatusBadRequest)
		return
	}
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	coin := market.Coin(side)
	cash := market.Balance(side)
	totalBorrow := coin.LoanRebase.Elastic

	utilization, err := interest.Utilization(cash, totalBorrow, coin.TotalReserves)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	borrowRate, err := coin.Curve.BorrowRatePerMs(cash, totalBorrow, coin.TotalReserves)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	supplyRate, err := coin.Curve.SupplyRatePerMs(cash, totalBorrow, coin.TotalReserves, coin.ReserveFactor)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, RatesResponse{
		Side:            side,
		Utilization:     fixedToDecimal(utilization).String(),
		BorrowRatePerMs: borrowRate,
		SupplyRatePerMs: supplyRate,
		BorrowAPR:       perMsToAPR(borrowRate).String(),
		SupplyAPR:       perMsToAPR(supplyRate).String(),
	})
}

// AccountView is the read-model for GET account: the stored position
// plus the rewards that would settle if the account acted now.
type AccountView struct {
	Address                  string     `json:"address"`
	Side                     model.Side `json:"side"`
	Shares                   uint64     `json:"shares"`
	Principal                uint64     `json:"principal"`
	CollateralRewards        uint64     `json:"collateral_rewards"`
	LoanRewards              uint64     `json:"loan_rewards"`
	PendingCollateralRewards uint64     `json:"pending_collateral_rewards"`
	PendingLoanRewards       uint64     `json:"pending_loan_rewards"`
	CollateralEnabled        bool       `json:"collateral_enabled"`
}

// GetAccount handles GET /api/v1/markets/{marketID}/accounts/{address}?side=x|y
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	side := model.Side(r.URL.Query().Get("side"))
	if !model.ValidSide(side) {
		writeError(w, model.ErrInvalidSide.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	marketID := chi.URLParam(r, "marketID")
	address := chi.URLParam(r, "address")

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	acct, err := s.store.GetAccount(ctx, marketID, side, address)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	// Accrue a throwaway copy so the pending numbers are live without
	// committing a state change on a read path.
	coin := market.Coin(side).Clone()
	nowMs := uint64(s.now().UnixMilli())
	if nowMs > coin.AccruedTimestamp {
		if err := accrual.Accrue(coin, nowMs, market.Balance(side)); err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	pendingCollateral, err := ledger.PendingCollateralRewards(coin, acct)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pendingLoan, err := ledger.PendingLoanRewards(coin, acct)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AccountView{
		Address:                  acct.Address,
		Side:                     side,
		Shares:                   acct.Shares,
		Principal:                acct.Principal,
		CollateralRewards:        acct.CollateralRewards,
		LoanRewards:              acct.LoanRewards,
		PendingCollateralRewards: pendingCollateral,
		PendingLoanRewards:       pendingLoan,
		CollateralEnabled:        acct.CollateralEnabled,
	})
}

// --- Ledger operations ---

// Deposit handles POST /api/v1/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.EventDeposit,
		func(m *model.Market, coin *model.CoinData, acct *model.Account, req OperationRequest) (ledger.Result, error) {
			res, err := ledger.Deposit(coin, acct, req.Amount)
			if err != nil {
				return res, err
			}
			balance, err := fixedpoint.CheckedAdd(m.Balance(req.Side), req.Amount)
			if err != nil {
				return res, err
			}
			m.SetBalance(req.Side, balance)
			return res, nil
		})
}

// Withdraw handles POST /api/v1/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.EventWithdraw,
		func(m *model.Market, coin *model.CoinData, acct *model.Account, req OperationRequest) (ledger.Result, error) {
			res, err := ledger.Withdraw(coin, acct, req.Shares)
			if err != nil {
				return res, err
			}
			if res.Amount > m.Balance(req.Side) {
				return res, ErrInsufficientLiquidity
			}
			m.SetBalance(req.Side, m.Balance(req.Side)-res.Amount)
			return res, nil
		})
}

// Borrow handles POST /api/v1/borrow
func (s *Service) Borrow(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.EventBorrow,
		func(m *model.Market, coin *model.CoinData, acct *model.Account, req OperationRequest) (ledger.Result, error) {
			if req.Amount > m.Balance(req.Side) {
				return ledger.Result{}, ErrInsufficientLiquidity
			}
			res, err := ledger.Borrow(coin, acct, req.Amount)
			if err != nil {
				return res, err
			}
			m.SetBalance(req.Side, m.Balance(req.Side)-req.Amount)
			return res, nil
		})
}

// Repay handles POST /api/v1/repay
func (s *Service) Repay(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.EventRepay,
		func(m *model.Market, coin *model.CoinData, acct *model.Account, req OperationRequest) (ledger.Result, error) {
			res, err := ledger.Repay(coin, acct, req.Shares)
			if err != nil {
				return res, err
			}
			balance, err := fixedpoint.CheckedAdd(m.Balance(req.Side), res.Amount)
			if err != nil {
				return res, err
			}
			m.SetBalance(req.Side, balance)
			return res, nil
		})
}

// operationFn applies one ledger operation to the loaded, accrued state.
type operationFn func(m *model.Market, coin *model.CoinData, acct *model.Account, req OperationRequest) (ledger.Result, error)

// handleOperation runs the shared settle-apply-persist-emit pipeline
// for the four ledger operations.
func (s *Service) handleOperation(w http.ResponseWriter, r *http.Request, op string, fn operationFn) {
	start := time.Now()

	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !model.ValidSide(req.Side) {
		writeError(w, model.ErrInvalidSide.Error(), http.StatusBadRequest)
		return
	}
	if !validAddress(req.Sender) {
		writeError(w, ErrInvalidAddress.Error(), http.StatusBadRequest)
		return
	}
	tsMs := req.TimestampMs
	if tsMs == 0 {
		tsMs = uint64(s.now().UnixMilli())
	}

	ctx := r.Context()

	// Serialize execution: one operation commits fully before the next.
	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		writeError(w, "market not found: "+req.MarketID, http.StatusNotFound)
		return
	}
	if market.Locked {
		metrics.LockRejections.Inc()
		writeError(w, ErrReentrancyLocked.Error(), statusFor(ErrReentrancyLocked))
		return
	}

	acct, err := s.store.GetAccount(ctx, req.MarketID, req.Side, req.Sender)
	if errors.Is(err, store.ErrNotFound) {
		acct = model.NewAccount(req.Sender)
	} else if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	// Settle the touched side before any accumulator is read.
	coin := market.Coin(req.Side)
	accruedFrom := coin.AccruedTimestamp
	if err := accrual.Accrue(coin, tsMs, market.Balance(req.Side)); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if coin.AccruedTimestamp != accruedFrom {
		metrics.AccrualsTotal.Inc()
	}

	res, err := fn(market, coin, acct, req)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to persist market", http.StatusInternalServerError)
		return
	}
	if err := s.store.PutAccount(ctx, req.MarketID, req.Side, acct); err != nil {
		writeError(w, "failed to persist account", http.StatusInternalServerError)
		return
	}
	s.appendEvent(ctx, &model.Event{
		ID:             uuid.New().String(),
		MarketID:       req.MarketID,
		Type:           op,
		Side:           req.Side,
		Sender:         req.Sender,
		Amount:         res.Amount,
		Shares:         res.Shares,
		PendingRewards: res.PendingRewards,
		Timestamp:      s.now().UTC(),
	})

	metrics.OperationsTotal.WithLabelValues(op, string(req.Side)).Inc()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	slog.Info("operation committed",
		"op", op,
		"market", req.MarketID,
		"side", req.Side,
		"sender", req.Sender,
		"amount", res.Amount,
		"shares", res.Shares,
		"pending_rewards", res.PendingRewards,
	)

	if s.hub != nil {
		s.hub.Broadcast(EventMessage{
			Type:           op,
			MarketID:       req.MarketID,
			Side:           req.Side,
			Sender:         req.Sender,
			Amount:         res.Amount,
			Shares:         res.Shares,
			PendingRewards: res.PendingRewards,
		})
	}

	writeJSON(w, http.StatusOK, OperationResponse{
		MarketID:       req.MarketID,
		Side:           req.Side,
		Sender:         req.Sender,
		Amount:         res.Amount,
		Shares:         res.Shares,
		PendingRewards: res.PendingRewards,
		Account: AccountSummary{
			Shares:            acct.Shares,
			Principal:         acct.Principal,
			CollateralRewards: acct.CollateralRewards,
			LoanRewards:       acct.LoanRewards,
			CollateralEnabled: acct.CollateralEnabled,
		},
	})
}

// --- Account flags ---

// CollateralRequest is the JSON body for the collateral toggle.
type CollateralRequest struct {
	Sender  string     `json:"sender"`
	Side    model.Side `json:"side"`
	Enabled bool       `json:"enabled"`
}

// SetCollateral handles POST /api/v1/markets/{marketID}/collateral
func (s *Service) SetCollateral(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !model.ValidSide(req.Side) {
		writeError(w, model.ErrInvalidSide.Error(), http.StatusBadRequest)
		return
	}
	if !validAddress(req.Sender) {
		writeError(w, ErrInvalidAddress.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	marketID := chi.URLParam(r, "marketID")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	acct, err := s.store.GetAccount(ctx, marketID, req.Side, req.Sender)
	if errors.Is(err, store.ErrNotFound) {
		acct = model.NewAccount(req.Sender)
	} else if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	acct.CollateralEnabled = req.Enabled
	if err := s.store.PutAccount(ctx, marketID, req.Side, acct); err != nil {
		writeError(w, "failed to persist account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"collateral_enabled": acct.CollateralEnabled})
}

// --- Admin ---

// AdminRequest is the JSON body for admin transfer and the flash-loan
// lock endpoints. NewAdmin is only read by the transfer.
type AdminRequest struct {
	Caller   string `json:"caller"`
	NewAdmin string `json:"new_admin,omitempty"`
}

// TransferAdmin handles POST /api/v1/markets/{marketID}/admin
func (s *Service) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validAddress(req.NewAdmin) {
		writeError(w, ErrInvalidAddress.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	marketID := chi.URLParam(r, "marketID")

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if req.Caller != market.Admin {
		writeError(w, ErrNotAdmin.Error(), http.StatusForbidden)
		return
	}
	market.Admin = req.NewAdmin
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to persist market", http.StatusInternalServerError)
		return
	}
	s.appendEvent(ctx, &model.Event{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Type:      model.EventNewAdmin,
		Sender:    req.Caller,
		Admin:     req.NewAdmin,
		Timestamp: s.now().UTC(),
	})

	slog.Info("admin transferred", "market", marketID, "admin", req.NewAdmin)

	if s.hub != nil {
		s.hub.Broadcast(EventMessage{Type: model.EventNewAdmin, MarketID: marketID, Admin: req.NewAdmin})
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin": market.Admin})
}

// Lock handles POST /api/v1/markets/{marketID}/lock. It opens the
// flash-loan window: while held, every balance-mutating operation on
// the market is rejected.
func (s *Service) Lock(w http.ResponseWriter, r *http.Request) {
	s.setLock(w, r, true, model.EventLock)
}

// Unlock handles POST /api/v1/markets/{marketID}/unlock.
func (s *Service) Unlock(w http.ResponseWriter, r *http.Request) {
	s.setLock(w, r, false, model.EventUnlock)
}

func (s *Service) setLock(w http.ResponseWriter, r *http.Request, locked bool, event string) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	marketID := chi.URLParam(r, "marketID")

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if req.Caller != market.Admin {
		writeError(w, ErrNotAdmin.Error(), http.StatusForbidden)
		return
	}
	market.Locked = locked
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to persist market", http.StatusInternalServerError)
		return
	}
	s.appendEvent(ctx, &model.Event{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Type:      event,
		Sender:    req.Caller,
		Timestamp: s.now().UTC(),
	})
	writeJSON(w, http.StatusOK, map[string]bool{"locked": market.Locked})
}

// --- Helpers ---

// appendEvent logs a failure to append instead of failing the already
// committed operation; the event log is observability, not ledger truth.
func (s *Service) appendEvent(ctx context.Context, ev *model.Event) {
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("failed to append event", "type", ev.Type, "market", ev.MarketID, "err", err)
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReentrancyLocked):
		return http.StatusLocked
	case errors.Is(err, ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidAsset),
		errors.Is(err, model.ErrUnorderedAssetPair),
		errors.Is(err, model.ErrInvalidSide),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ledger.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrMarketExists),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, interest.ErrInsufficientLiquidity),
		errors.Is(err, accrual.ErrClockRegression):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fixedToDecimal renders a Scale-scaled fraction as a decimal.
func fixedToDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v).Div(decimal.New(1, 18)).Round(8)
}

// perMsToAPR converts a per-ms fixed-point rate to a per-year decimal
// fraction for presentation.
func perMsToAPR(ratePerMs uint64) decimal.Decimal {
	return decimal.NewFromUint64(ratePerMs).
		Mul(decimal.NewFromInt(config.MsPerYear)).
		Div(decimal.New(1, 18)).
		Round(8)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
