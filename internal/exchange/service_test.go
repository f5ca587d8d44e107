package exchange_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ammx/swap-engine/internal/amm"
	"github.com/ammx/swap-engine/internal/exchange"
	"github.com/ammx/swap-engine/internal/model"
	"github.com/ammx/swap-engine/internal/store"
)

const adminToken = "test-admin-token"

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*exchange.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	isAdmin := func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer "+adminToken
	}
	svc := exchange.NewService(ms, isAdmin, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pools", svc.HandleCreatePool)
		r.Get("/pools", svc.HandleListPools)
		r.Get("/pools/{tokenA}/{tokenB}", svc.HandleGetPool)
		r.Post("/liquidity/add", svc.HandleAddLiquidity)
		r.Post("/liquidity/remove", svc.HandleRemoveLiquidity)
		r.Get("/positions/{provider}", svc.HandleGetPositions)
		r.Get("/positions/{provider}/{tokenA}/{tokenB}", svc.HandleGetPositions)
		r.Post("/swap/exact-in", svc.HandleSwapExactIn)
		r.Post("/swap/exact-out", svc.HandleSwapExactOut)
		r.Get("/quote/out", svc.HandleQuoteOut)
		r.Get("/quote/in", svc.HandleQuoteIn)
		r.Get("/stats/{tokenA}/{tokenB}", svc.HandleGetStats)
		r.Get("/swaps/{tokenA}/{tokenB}", svc.HandleGetSwaps)
		r.Get("/currencies/{token}", svc.HandleGetCurrency)
		r.Get("/price-feeds/{token}", svc.HandleGetPriceFeed)
		r.Post("/admin/currencies", svc.HandleAddCurrency)
		r.Post("/admin/price-feeds", svc.HandleUpdatePriceFeed)
	})

	return svc, ms, r
}

// seedPool writes a pool and its creator position directly to the store.
// Tokens must already be in canonical (lexicographic) order.
func seedPool(t *testing.T, ms *store.MemoryStore, tokenA, tokenB string, reserveA, reserveB, totalShares uint64, provider string) {
	t.Helper()
	pool := &model.Pool{
		TokenA:      tokenA,
		TokenB:      tokenB,
		ReserveA:    reserveA,
		ReserveB:    reserveB,
		TotalShares: totalShares,
		KLast:       model.KFromReserves(reserveA, reserveB),
		CreatedAt:   time.Now().UTC(),
	}
	position := &model.LiquidityPosition{
		Provider: provider,
		TokenA:   tokenA,
		TokenB:   tokenB,
		Shares:   totalShares,
	}
	if err := ms.CreatePool(context.Background(), pool, position); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
}

func doPost(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// --- Pool creation tests ---

func TestCreatePool(t *testing.T) {
	_, ms, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/pools", exchange.CreatePoolRequest{
		Provider: "alice",
		TokenA:   "usdc",
		TokenB:   "atom",
		AmountA:  100000,
		AmountB:  90000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp exchange.CreatePoolResponse
	decodeBody(t, w, &resp)

	// "atom" sorts before "usdc", so the amounts land in swapped slots.
	if resp.Pool.TokenA != "atom" || resp.Pool.TokenB != "usdc" {
		t.Errorf("expected canonical pair atom/usdc, got %s/%s", resp.Pool.TokenA, resp.Pool.TokenB)
	}
	if resp.Pool.ReserveA != 90000 || resp.Pool.ReserveB != 100000 {
		t.Errorf("expected reserves 90000/100000, got %d/%d", resp.Pool.ReserveA, resp.Pool.ReserveB)
	}

	wantShares, err := amm.SqrtProduct(90000, 100000)
	if err != nil {
		t.Fatalf("SqrtProduct: %v", err)
	}
	if resp.Shares != wantShares {
		t.Errorf("expected %d shares, got %d", wantShares, resp.Shares)
	}
	if resp.Pool.TotalShares != wantShares {
		t.Errorf("expected total shares %d, got %d", wantShares, resp.Pool.TotalShares)
	}

	// Creator position holds all initial shares.
	pos, err := ms.GetPosition(context.Background(), "alice", "atom", "usdc")
	if err != nil || pos == nil {
		t.Fatalf("expected creator position, got %v, %v", pos, err)
	}
	if pos.Shares != wantShares {
		t.Errorf("expected position shares %d, got %d", wantShares, pos.Shares)
	}
}

func TestCreatePool_DuplicateEitherOrder(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/pools", exchange.CreatePoolRequest{
		Provider: "alice", TokenA: "atom", TokenB: "usdc", AmountA: 90000, AmountB: 100000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Same pair in reversed order resolves to the same pool.
	w = doPost(t, router, "/api/v1/pools", exchange.CreatePoolRequest{
		Provider: "bob", TokenA: "usdc", TokenB: "atom", AmountA: 1000000, AmountB: 900000,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate pool, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePool_IdenticalTokens(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/pools", exchange.CreatePoolRequest{
		Provider: "alice", TokenA: "atom", TokenB: "atom", AmountA: 100000, AmountB: 100000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for identical tokens, got %d", w.Code)
	}
}

func TestCreatePool_ZeroAmount(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/pools", exchange.CreatePoolRequest{
		Provider: "alice", TokenA: "atom", TokenB: "usdc", AmountA: 0, AmountB: 100000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero amount, got %d", w.Code)
	}
}

func TestCreatePool_BelowMinimumLiquidity(t *testing.T) {
	_, _, router := newTestEnv(t)

	// sqrt(1*1) = 1 share, far below the 1000-share floor.
	w := doPost(t, router, "/api/v1/pools", exchange.CreatePoolRequest{
		Provider: "alice", TokenA: "atom", TokenB: "usdc", AmountA: 1, AmountB: 1,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for dust seed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPool_OrderInvariant(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 90000, 100000, 30000, "alice")

	for _, path := range []string{"/api/v1/pools/atom/usdc", "/api/v1/pools/usdc/atom"} {
		w := doGet(t, router, path)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
		}
		var pool model.Pool
		decodeBody(t, w, &pool)
		if pool.TokenA != "atom" || pool.TokenB != "usdc" {
			t.Errorf("GET %s: expected canonical atom/usdc, got %s/%s", path, pool.TokenA, pool.TokenB)
		}
	}
}

// --- Liquidity tests ---

func TestAddLiquidity_Proportional(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	// 10000:9000 matches the 100000:90000 ratio exactly.
	w := doPost(t, router, "/api/v1/liquidity/add", exchange.AddLiquidityRequest{
		Provider:       "bob",
		TokenA:         "atom",
		TokenB:         "usdc",
		AmountADesired: 10000,
		AmountBDesired: 9000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Shares uint64 `json:"shares"`
	}
	decodeBody(t, w, &resp)
	if resp.Shares != 3000 {
		t.Errorf("expected 3000 shares minted, got %d", resp.Shares)
	}

	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 110000 || pool.ReserveB != 99000 {
		t.Errorf("expected reserves 110000/99000, got %d/%d", pool.ReserveA, pool.ReserveB)
	}
	if pool.TotalShares != 33000 {
		t.Errorf("expected total shares 33000, got %d", pool.TotalShares)
	}
}

func TestAddLiquidity_RatioClampsExcess(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	// B is over-supplied; the engine clamps it to the ratio-preserving
	// optimum rather than rejecting.
	w := doPost(t, router, "/api/v1/liquidity/add", exchange.AddLiquidityRequest{
		Provider:       "bob",
		TokenA:         "atom",
		TokenB:         "usdc",
		AmountADesired: 10000,
		AmountBDesired: 20000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveB != 99000 {
		t.Errorf("expected clamped reserve B 99000, got %d", pool.ReserveB)
	}
}

func TestAddLiquidity_SlippageBelowMin(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	// Final B amount is 9000; a 9500 floor must reject.
	w := doPost(t, router, "/api/v1/liquidity/add", exchange.AddLiquidityRequest{
		Provider:       "bob",
		TokenA:         "atom",
		TokenB:         "usdc",
		AmountADesired: 10000,
		AmountBDesired: 9000,
		AmountBMin:     9500,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for slippage, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAddLiquidity_PoolNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/liquidity/add", exchange.AddLiquidityRequest{
		Provider: "bob", TokenA: "atom", TokenB: "usdc", AmountADesired: 100, AmountBDesired: 100,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRemoveLiquidity_FullExitDeletesPosition(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/liquidity/remove", exchange.RemoveLiquidityRequest{
		Provider:  "alice",
		TokenA:    "atom",
		TokenB:    "usdc",
		Liquidity: 30000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]uint64
	decodeBody(t, w, &resp)
	if resp["amount_a"] != 100000 || resp["amount_b"] != 90000 {
		t.Errorf("expected full payout 100000/90000, got %d/%d", resp["amount_a"], resp["amount_b"])
	}

	// Burning to exactly zero deletes the position record.
	pos, err := ms.GetPosition(context.Background(), "alice", "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Errorf("expected position deleted, got shares %d", pos.Shares)
	}
}

func TestRemoveLiquidity_PartialProportional(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	// 10000 of 30000 shares is exactly one third of both reserves.
	w := doPost(t, router, "/api/v1/liquidity/remove", exchange.RemoveLiquidityRequest{
		Provider:  "alice",
		TokenA:    "atom",
		TokenB:    "usdc",
		Liquidity: 10000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]uint64
	decodeBody(t, w, &resp)
	if resp["amount_a"] != 33333 || resp["amount_b"] != 30000 {
		t.Errorf("expected payout 33333/30000, got %d/%d", resp["amount_a"], resp["amount_b"])
	}

	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.TotalShares != 20000 {
		t.Errorf("expected total shares 20000, got %d", pool.TotalShares)
	}
}

func TestRemoveLiquidity_SlippageBelowMin(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	// 10000 shares pay out 33333/30000; a 34000 floor on A must reject.
	w := doPost(t, router, "/api/v1/liquidity/remove", exchange.RemoveLiquidityRequest{
		Provider:   "alice",
		TokenA:     "atom",
		TokenB:     "usdc",
		Liquidity:  10000,
		AmountAMin: 34000,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for slippage, got %d: %s", w.Code, w.Body.String())
	}

	// Rejected removal must leave pool and position untouched.
	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 100000 || pool.ReserveB != 90000 || pool.TotalShares != 30000 {
		t.Errorf("pool mutated by rejected removal: %d/%d shares %d",
			pool.ReserveA, pool.ReserveB, pool.TotalShares)
	}
	pos, err := ms.GetPosition(context.Background(), "alice", "atom", "usdc")
	if err != nil || pos == nil {
		t.Fatalf("expected position intact, got %v, %v", pos, err)
	}
	if pos.Shares != 30000 {
		t.Errorf("expected 30000 shares, got %d", pos.Shares)
	}
}

func TestRemoveLiquidity_InsufficientShares(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/liquidity/remove", exchange.RemoveLiquidityRequest{
		Provider:  "bob", // holds nothing
		TokenA:    "atom",
		TokenB:    "usdc",
		Liquidity: 1,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Swap tests ---

func TestSwapExactIn(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
		Provider: "bob",
		TokenIn:  "atom",
		TokenOut: "usdc",
		AmountIn: 10000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp exchange.SwapResponse
	decodeBody(t, w, &resp)
	if resp.AmountOut != 8159 {
		t.Errorf("expected amount out 8159, got %d", resp.AmountOut)
	}
	if resp.FillPrice != "0.8159" {
		t.Errorf("expected fill price 0.8159, got %s", resp.FillPrice)
	}

	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 110000 || pool.ReserveB != 81841 {
		t.Errorf("expected reserves 110000/81841, got %d/%d", pool.ReserveA, pool.ReserveB)
	}
}

func TestSwapExactIn_UpdatesStats(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
		Provider: "bob", TokenIn: "atom", TokenOut: "usdc", AmountIn: 10000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("swap failed: %d %s", w.Code, w.Body.String())
	}

	w = doGet(t, router, "/api/v1/stats/atom/usdc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats struct {
		Volume24h   uint64 `json:"volume_24h"`
		TradesCount uint64 `json:"trades_count"`
		LastPrice   uint64 `json:"last_price"`
	}
	decodeBody(t, w, &stats)
	if stats.Volume24h != 10000 {
		t.Errorf("expected volume 10000, got %d", stats.Volume24h)
	}
	if stats.TradesCount != 1 {
		t.Errorf("expected 1 trade, got %d", stats.TradesCount)
	}
	if stats.LastPrice != 81590000 {
		t.Errorf("expected last price 81590000, got %d", stats.LastPrice)
	}
}

func TestSwapExactIn_SlippageTooHigh(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
		Provider:     "bob",
		TokenIn:      "atom",
		TokenOut:     "usdc",
		AmountIn:     10000,
		AmountOutMin: 9000, // actual output is 8159
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Rejected swap must not touch the pool.
	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 100000 || pool.ReserveB != 90000 {
		t.Errorf("pool mutated by rejected swap: %d/%d", pool.ReserveA, pool.ReserveB)
	}
}

func TestSwapExactIn_ZeroAmount(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
		Provider: "bob", TokenIn: "atom", TokenOut: "usdc", AmountIn: 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSwapExactIn_PoolNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
		Provider: "bob", TokenIn: "atom", TokenOut: "usdc", AmountIn: 10000,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSwapExactIn_KNeverDecreases(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	kBefore := uint64(100000) * 90000

	for i := 0; i < 5; i++ {
		w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
			Provider: "bob", TokenIn: "atom", TokenOut: "usdc", AmountIn: 5000,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("swap %d failed: %d %s", i, w.Code, w.Body.String())
		}

		pool, err := ms.GetPool(context.Background(), "atom", "usdc")
		if err != nil {
			t.Fatalf("GetPool: %v", err)
		}
		kAfter := pool.ReserveA * pool.ReserveB
		if kAfter < kBefore {
			t.Fatalf("swap %d: k decreased from %d to %d", i, kBefore, kAfter)
		}
		kBefore = kAfter
	}
}

func TestSwapExactOut(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	// The ceiling-corrected inverse of the 10000 → 8159 forward swap.
	w := doPost(t, router, "/api/v1/swap/exact-out", exchange.SwapExactOutRequest{
		Provider:    "bob",
		TokenIn:     "atom",
		TokenOut:    "usdc",
		AmountOut:   8159,
		AmountInMax: 20000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp exchange.SwapResponse
	decodeBody(t, w, &resp)
	if resp.AmountIn != 10000 {
		t.Errorf("expected amount in 10000, got %d", resp.AmountIn)
	}

	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 110000 || pool.ReserveB != 81841 {
		t.Errorf("expected reserves 110000/81841, got %d/%d", pool.ReserveA, pool.ReserveB)
	}
}

func TestSwapExactOut_DoesNotUpdateStats(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-out", exchange.SwapExactOutRequest{
		Provider: "bob", TokenIn: "atom", TokenOut: "usdc", AmountOut: 8159, AmountInMax: 20000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("swap failed: %d %s", w.Code, w.Body.String())
	}

	// Only exact-in swaps accumulate trading stats.
	w = doGet(t, router, "/api/v1/stats/atom/usdc")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for stats after exact-out only, got %d", w.Code)
	}
}

func TestSwapExactOut_CannotDrainReserve(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	for _, amountOut := range []uint64{90000, 90001} {
		w := doPost(t, router, "/api/v1/swap/exact-out", exchange.SwapExactOutRequest{
			Provider:    "bob",
			TokenIn:     "atom",
			TokenOut:    "usdc",
			AmountOut:   amountOut,
			AmountInMax: ^uint64(0),
		})
		if w.Code != http.StatusConflict {
			t.Errorf("amountOut=%d: expected 409, got %d: %s", amountOut, w.Code, w.Body.String())
		}
	}
}

func TestSwapExactOut_InputExceedsMax(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-out", exchange.SwapExactOutRequest{
		Provider:    "bob",
		TokenIn:     "atom",
		TokenOut:    "usdc",
		AmountOut:   8159,
		AmountInMax: 9999, // required input is 10000
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSwapHistory_RecordsBothKinds(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
		Provider: "bob", TokenIn: "atom", TokenOut: "usdc", AmountIn: 10000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("exact-in failed: %d", w.Code)
	}
	w = doPost(t, router, "/api/v1/swap/exact-out", exchange.SwapExactOutRequest{
		Provider: "bob", TokenIn: "usdc", TokenOut: "atom", AmountOut: 1000, AmountInMax: 20000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("exact-out failed: %d %s", w.Code, w.Body.String())
	}

	w = doGet(t, router, "/api/v1/swaps/atom/usdc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Swaps []model.SwapRecord `json:"swaps"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Swaps) != 2 {
		t.Fatalf("expected 2 swap records, got %d", len(resp.Swaps))
	}
	if resp.Swaps[0].Kind != exchange.KindExactIn || resp.Swaps[1].Kind != exchange.KindExactOut {
		t.Errorf("unexpected record kinds: %s, %s", resp.Swaps[0].Kind, resp.Swaps[1].Kind)
	}
	if resp.Swaps[0].ID == resp.Swaps[1].ID {
		t.Errorf("swap records share an ID: %s", resp.Swaps[0].ID)
	}
}

// --- Quote tests ---

func TestQuoteOut(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doGet(t, router, "/api/v1/quote/out?amount_in=10000&token_in=atom&token_out=usdc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]uint64
	decodeBody(t, w, &resp)
	if resp["amount_out"] != 8159 {
		t.Errorf("expected amount out 8159, got %d", resp["amount_out"])
	}
	if resp["price_impact_bps"] != 906 {
		t.Errorf("expected impact 906 bps, got %d", resp["price_impact_bps"])
	}

	// Quoting must not mutate the pool.
	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 100000 || pool.ReserveB != 90000 {
		t.Errorf("quote mutated reserves: %d/%d", pool.ReserveA, pool.ReserveB)
	}
}

func TestQuoteOut_PoolNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/quote/out?amount_in=10000&token_in=atom&token_out=usdc")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestQuoteIn_MatchesExactOutPricing(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")

	w := doGet(t, router, "/api/v1/quote/in?amount_out=8159&token_in=atom&token_out=usdc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]uint64
	decodeBody(t, w, &resp)
	if resp["amount_in"] != 10000 {
		t.Errorf("expected amount in 10000, got %d", resp["amount_in"])
	}
}

// --- Position view tests ---

func TestGetPositions(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 100000, 90000, 30000, "alice")
	seedPool(t, ms, "btc", "eth", 500000, 400000, 50000, "alice")

	w := doGet(t, router, "/api/v1/positions/alice")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Positions []model.LiquidityPosition `json:"positions"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(resp.Positions))
	}

	w = doGet(t, router, "/api/v1/positions/alice/usdc/atom")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for reversed-order lookup, got %d", w.Code)
	}
	var pos model.LiquidityPosition
	decodeBody(t, w, &pos)
	if pos.Shares != 30000 {
		t.Errorf("expected 30000 shares, got %d", pos.Shares)
	}

	w = doGet(t, router, "/api/v1/positions/carol/atom/usdc")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for absent position, got %d", w.Code)
	}
}

// --- Admin tests ---

func TestAddCurrency_RequiresAdmin(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/admin/currencies", exchange.CurrencyRequest{
		Token: "atom", Name: "Cosmos Hub", Symbol: "ATOM", Decimals: 6, IsActive: true,
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
}

func TestAddCurrency_AndLookup(t *testing.T) {
	_, _, router := newTestEnv(t)

	body, _ := json.Marshal(exchange.CurrencyRequest{
		Token: "atom", Name: "Cosmos Hub", Symbol: "ATOM", Decimals: 6, IsActive: true,
	})
	req := httptest.NewRequest("POST", "/api/v1/admin/currencies", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w2 := doGet(t, router, "/api/v1/currencies/atom")
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
	var c model.SupportedCurrency
	decodeBody(t, w2, &c)
	if c.Symbol != "ATOM" || !c.IsActive {
		t.Errorf("unexpected currency metadata: %+v", c)
	}
}

func TestUpdatePriceFeed_AndLookup(t *testing.T) {
	_, _, router := newTestEnv(t)

	body, _ := json.Marshal(exchange.PriceFeedRequest{
		Token: "atom", Price: "12.5", LastUpdateHeight: 42, IsValid: true,
	})
	req := httptest.NewRequest("POST", "/api/v1/admin/price-feeds", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w2 := doGet(t, router, "/api/v1/price-feeds/atom")
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
	var resp struct {
		Price            uint64 `json:"price"`
		PriceDecimal     string `json:"price_decimal"`
		LastUpdateHeight uint64 `json:"last_update_height"`
	}
	decodeBody(t, w2, &resp)
	if resp.Price != 1250000000 {
		t.Errorf("expected scaled price 1250000000, got %d", resp.Price)
	}
	if resp.PriceDecimal != "12.5" {
		t.Errorf("expected decimal 12.5, got %s", resp.PriceDecimal)
	}
	if resp.LastUpdateHeight != 42 {
		t.Errorf("expected height 42, got %d", resp.LastUpdateHeight)
	}
}

// --- Concurrency tests ---

func TestConcurrentSwaps_SerializedPerPool(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPool(t, ms, "atom", "usdc", 10000000, 9000000, 3000000, "alice")

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := doPost(t, router, "/api/v1/swap/exact-in", exchange.SwapExactInRequest{
				Provider: fmt.Sprintf("trader-%d", id),
				TokenIn:  "atom",
				TokenOut: "usdc",
				AmountIn: 1000,
			})
			if w.Code != http.StatusOK {
				t.Errorf("worker %d: swap failed with %d", id, w.Code)
			}
		}(i)
	}
	wg.Wait()

	w := doGet(t, router, "/api/v1/stats/atom/usdc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats struct {
		Volume24h   uint64 `json:"volume_24h"`
		TradesCount uint64 `json:"trades_count"`
	}
	decodeBody(t, w, &stats)
	if stats.TradesCount != workers {
		t.Errorf("expected %d trades, got %d", workers, stats.TradesCount)
	}
	if stats.Volume24h != workers*1000 {
		t.Errorf("expected volume %d, got %d", workers*1000, stats.Volume24h)
	}

	pool, err := ms.GetPool(context.Background(), "atom", "usdc")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool.ReserveA != 10000000+workers*1000 {
		t.Errorf("expected reserve A %d, got %d", 10000000+workers*1000, pool.ReserveA)
	}
}
