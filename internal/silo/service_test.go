package silo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/interest-protocol/silo/internal/config"
	"github.com/interest-protocol/silo/internal/model"
	"github.com/interest-protocol/silo/internal/store"
)

const (
	assetA = "0x2::btc::BTC"
	assetB = "0x2::eth::ETH"

	adminAddr = "0xad1"
	userAddr  = "0xabc"
	otherAddr = "0xbcd"

	// Fixed test clock. Explicit operation timestamps are offsets from
	// this so accrual deltas are exact.
	baseMs = uint64(1_700_000_000_000)
)

// testMarketConfig zeroes the interest curve so reward and balance
// arithmetic in the HTTP tests is exact. Interest accrual itself is
// covered by the accrual package tests.
var testMarketConfig = config.MarketConfig{
	BaseRatePerYear:       "0",
	MultiplierPerYear:     "0",
	JumpMultiplierPerYear: "0",
	Kink:                  "0.8",
	ReserveFactor:         "0",
	IPXPerMs:              10,
	DecimalsFactor:        1_000_000,
}

func newTestService(t *testing.T) (*Service, http.Handler) {
	t.Helper()
	svc := NewService(store.NewMemoryStore(), testMarketConfig, nil)
	svc.now = func() time.Time { return time.UnixMilli(int64(baseMs)).UTC() }

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return svc, r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func createMarket(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets", CreateMarketRequest{
		AssetX: assetA,
		AssetY: assetB,
		Admin:  adminAddr,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[model.Market](t, rec).ID
}

func TestCreateMarket(t *testing.T) {
	_, h := newTestService(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets", CreateMarketRequest{
		AssetX: assetA,
		AssetY: assetB,
		Admin:  adminAddr,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	m := decode[model.Market](t, rec)
	if m.PairKey != assetA+":"+assetB {
		t.Errorf("pair key = %q", m.PairKey)
	}
	if m.Admin != adminAddr {
		t.Errorf("admin = %q, want %q", m.Admin, adminAddr)
	}
	if m.CoinX == nil || m.CoinY == nil {
		t.Fatal("coin data not initialized")
	}
	if m.CoinX.AccruedTimestamp != baseMs {
		t.Errorf("accrued timestamp = %d, want %d", m.CoinX.AccruedTimestamp, baseMs)
	}
	if m.Locked {
		t.Error("new market must start unlocked")
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateMarketRequest
	}{
		{"reversed pair", CreateMarketRequest{AssetX: assetB, AssetY: assetA, Admin: adminAddr}},
		{"identical assets", CreateMarketRequest{AssetX: assetA, AssetY: assetA, Admin: adminAddr}},
		{"malformed asset", CreateMarketRequest{AssetX: "btc", AssetY: assetB, Admin: adminAddr}},
		{"uppercase module", CreateMarketRequest{AssetX: "0x2::BTC::BTC", AssetY: assetB, Admin: adminAddr}},
		{"zero admin", CreateMarketRequest{AssetX: assetA, AssetY: assetB, Admin: "0x000"}},
		{"malformed admin", CreateMarketRequest{AssetX: assetA, AssetY: assetB, Admin: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestService(t)
			rec := doRequest(t, h, http.MethodPost, "/api/v1/markets", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateMarket_DuplicatePair(t *testing.T) {
	_, h := newTestService(t)
	createMarket(t, h)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets", CreateMarketRequest{
		AssetX: assetA,
		AssetY: assetB,
		Admin:  otherAddr,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDeposit(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID,
		Side:     model.SideX,
		Sender:   userAddr,
		Amount:   1_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decode[OperationResponse](t, rec)
	if res.Shares != 1_000 {
		t.Errorf("shares = %d, want 1000 at bootstrap", res.Shares)
	}
	if res.Account.Shares != 1_000 {
		t.Errorf("account shares = %d, want 1000", res.Account.Shares)
	}

	// Pooled cash reflects the deposit.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID, nil)
	m := decode[model.Market](t, rec)
	if m.BalanceX != 1_000 {
		t.Errorf("balance_x = %d, want 1000", m.BalanceX)
	}
	if m.BalanceY != 0 {
		t.Errorf("balance_y = %d, want 0 (other side untouched)", m.BalanceY)
	}
}

func TestOperation_Validation(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	tests := []struct {
		name string
		req  OperationRequest
		want int
	}{
		{"zero amount", OperationRequest{MarketID: marketID, Side: model.SideX, Sender: userAddr}, http.StatusBadRequest},
		{"bad side", OperationRequest{MarketID: marketID, Side: "z", Sender: userAddr, Amount: 1}, http.StatusBadRequest},
		{"zero sender", OperationRequest{MarketID: marketID, Side: model.SideX, Sender: "0x00", Amount: 1}, http.StatusBadRequest},
		{"unknown market", OperationRequest{MarketID: "missing", Side: model.SideX, Sender: userAddr, Amount: 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/deposit", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestWithdraw_RoundTrip(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 1_000,
	})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/withdraw", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Shares: 1_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decode[OperationResponse](t, rec)
	if res.Amount != 1_000 {
		t.Errorf("amount = %d, want 1000 with no interim interest", res.Amount)
	}
	if res.Account.Shares != 0 {
		t.Errorf("account shares = %d, want 0", res.Account.Shares)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID, nil)
	if m := decode[model.Market](t, rec); m.BalanceX != 0 {
		t.Errorf("balance_x = %d, want 0 after full withdrawal", m.BalanceX)
	}
}

func TestWithdraw_MoreSharesThanHeld(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 100,
	})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/withdraw", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Shares: 101,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestWithdraw_CashLentOut(t *testing.T) {
	// The depositor's shares redeem for more than the pool currently
	// holds in cash because most of it is lent out.
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 1_000,
	})
	doRequest(t, h, http.MethodPost, "/api/v1/borrow", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: otherAddr, Amount: 800,
	})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/withdraw", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Shares: 1_000,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 when redemption exceeds pooled cash", rec.Code)
	}
}

func TestBorrow_ExceedsPooledCash(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 500,
	})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/borrow", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: otherAddr, Amount: 501,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestBorrowRepay_RoundTrip(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 1_000,
	})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/borrow", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: otherAddr, Amount: 500,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("borrow status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decode[OperationResponse](t, rec)
	if res.Shares != 500 {
		t.Errorf("principal = %d, want 500 at bootstrap", res.Shares)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/repay", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: otherAddr, Shares: 500,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("repay status = %d, body %s", rec.Code, rec.Body.String())
	}
	res = decode[OperationResponse](t, rec)
	if res.Amount != 500 {
		t.Errorf("repay amount = %d, want 500 with zero rates", res.Amount)
	}
	if res.Account.Principal != 0 {
		t.Errorf("principal = %d, want 0 after full repay", res.Account.Principal)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID, nil)
	if m := decode[model.Market](t, rec); m.BalanceX != 1_000 {
		t.Errorf("balance_x = %d, want 1000 restored", m.BalanceX)
	}
}

func TestDeposit_SettlesRewardsAcrossAccrual(t *testing.T) {
	// 10 IPX/ms for 1000 ms emits 10000 rewards; the collateral side
	// gets 5000 over 1000 shares. The second deposit settles those 5000
	// into the account and re-checkpoints against the combined balance.
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr,
		Amount: 1_000, TimestampMs: baseMs,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first deposit: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr,
		Amount: 500, TimestampMs: baseMs + 1_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second deposit: %d %s", rec.Code, rec.Body.String())
	}
	res := decode[OperationResponse](t, rec)
	if res.PendingRewards != 5_000 {
		t.Errorf("pending rewards = %d, want 5000", res.PendingRewards)
	}
	if res.Account.CollateralRewards != 5_000 {
		t.Errorf("banked rewards = %d, want 5000", res.Account.CollateralRewards)
	}
	if res.Account.Shares != 1_500 {
		t.Errorf("shares = %d, want 1500", res.Account.Shares)
	}
}

func TestOperation_ClockRegression(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr,
		Amount: 1_000, TimestampMs: baseMs + 5_000,
	})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr,
		Amount: 1_000, TimestampMs: baseMs + 4_000,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for backwards timestamp", rec.Code)
	}
}

func TestLock_RejectsOperations(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/lock",
		AdminRequest{Caller: adminAddr})
	if rec.Code != http.StatusOK {
		t.Fatalf("lock status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 100,
	})
	if rec.Code != http.StatusLocked {
		t.Errorf("deposit under lock: status = %d, want 423", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/unlock",
		AdminRequest{Caller: adminAddr})
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock status = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 100,
	})
	if rec.Code != http.StatusOK {
		t.Errorf("deposit after unlock: status = %d, want 200", rec.Code)
	}
}

func TestLock_NonAdminForbidden(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/lock",
		AdminRequest{Caller: userAddr})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestTransferAdmin(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/admin",
		AdminRequest{Caller: userAddr, NewAdmin: otherAddr})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin transfer: status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/admin",
		AdminRequest{Caller: adminAddr, NewAdmin: otherAddr})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The old admin loses its privileges, the new one gains them.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/lock",
		AdminRequest{Caller: adminAddr})
	if rec.Code != http.StatusForbidden {
		t.Errorf("old admin lock: status = %d, want 403", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/lock",
		AdminRequest{Caller: otherAddr})
	if rec.Code != http.StatusOK {
		t.Errorf("new admin lock: status = %d, want 200", rec.Code)
	}
}

func TestSetCollateral(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/markets/"+marketID+"/collateral",
		CollateralRequest{Sender: userAddr, Side: model.SideX, Enabled: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	path := fmt.Sprintf("/api/v1/markets/%s/accounts/%s?side=x", marketID, userAddr)
	rec = doRequest(t, h, http.MethodGet, path, nil)
	view := decode[AccountView](t, rec)
	if !view.CollateralEnabled {
		t.Error("collateral flag not persisted")
	}
}

func TestGetAccount(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 750,
	})

	path := fmt.Sprintf("/api/v1/markets/%s/accounts/%s?side=x", marketID, userAddr)
	rec := doRequest(t, h, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decode[AccountView](t, rec)
	if view.Shares != 750 {
		t.Errorf("shares = %d, want 750", view.Shares)
	}
	if view.PendingCollateralRewards != 0 {
		t.Errorf("pending = %d, want 0 with no elapsed time", view.PendingCollateralRewards)
	}

	rec = doRequest(t, h, http.MethodGet, path+"&foo=1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("extra query params must not break the handler: %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet,
		fmt.Sprintf("/api/v1/markets/%s/accounts/%s?side=y", marketID, userAddr), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("other side: status = %d, want 404", rec.Code)
	}
}

func TestGetRates(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID+"/rates?side=q", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad side: status = %d, want 400", rec.Code)
	}

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 1_000,
	})
	doRequest(t, h, http.MethodPost, "/api/v1/borrow", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: otherAddr, Amount: 500,
	})

	rec = doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID+"/rates?side=x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	rates := decode[RatesResponse](t, rec)
	if rates.Utilization != "0.5" {
		t.Errorf("utilization = %q, want 0.5", rates.Utilization)
	}
	if rates.BorrowRatePerMs != 0 {
		t.Errorf("borrow rate = %d, want 0 with a flat zero curve", rates.BorrowRatePerMs)
	}
}

func TestGetEvents(t *testing.T) {
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr, Amount: 100,
	})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID+"/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	events := decode[[]model.Event](t, rec)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2 (new_silo + deposit)", len(events))
	}
	if events[0].Type != model.EventNewSilo {
		t.Errorf("first event = %q, want new_silo", events[0].Type)
	}
	if events[1].Type != model.EventDeposit || events[1].Amount != 100 {
		t.Errorf("second event = %+v, want deposit of 100", events[1])
	}
}

func TestListMarkets(t *testing.T) {
	_, h := newTestService(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/markets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if markets := decode[[]model.Market](t, rec); len(markets) != 0 {
		t.Errorf("len = %d, want empty list", len(markets))
	}

	createMarket(t, h)
	rec = doRequest(t, h, http.MethodGet, "/api/v1/markets", nil)
	if markets := decode[[]model.Market](t, rec); len(markets) != 1 {
		t.Errorf("len = %d, want 1", len(markets))
	}
}

func TestSidesAccrueIndependently(t *testing.T) {
	// Operating on side x must not move side y's accrual clock.
	_, h := newTestService(t)
	marketID := createMarket(t, h)

	doRequest(t, h, http.MethodPost, "/api/v1/deposit", OperationRequest{
		MarketID: marketID, Side: model.SideX, Sender: userAddr,
		Amount: 1_000, TimestampMs: baseMs + 10_000,
	})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/markets/"+marketID, nil)
	m := decode[model.Market](t, rec)
	if m.CoinX.AccruedTimestamp != baseMs+10_000 {
		t.Errorf("coin_x accrued = %d, want %d", m.CoinX.AccruedTimestamp, baseMs+10_000)
	}
	if m.CoinY.AccruedTimestamp != baseMs {
		t.Errorf("coin_y accrued = %d, want untouched %d", m.CoinY.AccruedTimestamp, baseMs)
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0xabc", true},
		{"0x1", true},
		{"0xa0b0", true},
		{"0x0", false},
		{"0x0000", false},
		{"0x", false},
		{"abc", false},
		{"0xABC", false},
		{"0xg1", false},
	}
	for _, tt := range tests {
		if got := validAddress(tt.addr); got != tt.want {
			t.Errorf("validAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
