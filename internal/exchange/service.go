// Package exchange provides the pool state machine and its HTTP
// surface: pool creation, proportional liquidity add/remove, exact-in
// and exact-out swaps, trading analytics, and the admin metadata
// operations.
//
// Every mutating operation resolves its tokens to a canonical pair,
// validates all preconditions, computes the new pool state through the
// math kernel, then commits every touched record atomically — or
// commits nothing and surfaces one of the flat error kinds.
package exchange

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ammx/swap-engine/internal/amm"
	"github.com/ammx/swap-engine/internal/metrics"
	"github.com/ammx/swap-engine/internal/model"
	"github.com/ammx/swap-engine/internal/pair"
	"github.com/ammx/swap-engine/internal/store"
)

// Swap record kinds.
const (
	KindExactIn  = "exact_in"
	KindExactOut = "exact_out"
)

// AdminFunc decides whether a request may perform admin operations.
// The engine never hardcodes an identity; the host injects this.
type AdminFunc func(r *http.Request) bool

// Service executes pool operations. Mutations on the same canonical
// pair are serialized by a per-pair mutex; disjoint pairs proceed in
// parallel. Read views run against the latest committed snapshot
// without taking the pair lock.
type Service struct {
	store   store.Store
	isAdmin AdminFunc
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts

	lockMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// NewService creates a new exchange service. Pass nil for hub if
// WebSocket broadcasting is not needed; a nil isAdmin rejects every
// admin operation.
func NewService(st store.Store, isAdmin AdminFunc, hub *WSHub) *Service {
	return &Service{
		store:     st,
		isAdmin:   isAdmin,
		wsHub:     hub,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// lockPair acquires the mutex for one canonical pair key and returns
// the unlock function. Locks are never evicted — pools are never
// deleted, so the table growth is bounded by the pool count.
func (s *Service) lockPair(key string) func() {
	s.lockMu.Lock()
	m, ok := s.pairLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.pairLocks[key] = m
	}
	s.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

// satAdd adds two amounts, saturating at the maximum representable
// value. Used for cumulative volume only.
func satAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}

// checkedAdd adds two amounts or fails with ErrInvalidAmount when the
// sum does not fit. Used for reserve and share growth.
func checkedAdd(a, b uint64) (uint64, error) {
	if a+b < a {
		return 0, amm.ErrInvalidAmount
	}
	return a + b, nil
}

// --- Pool creation ---

// CreatePool creates the pool for (tokenX, tokenY) seeded with the
// given amounts and mints the creator's initial shares:
// integerSqrt(amountA * amountB) over the canonically ordered amounts.
// Fails with ErrIdenticalTokens, ErrZeroAmount, ErrPoolExists, or
// ErrInsufficientLiquidity (shares below MinLiquidity).
func (s *Service) CreatePool(ctx context.Context, provider, tokenX, tokenY string, amountX, amountY uint64) (*model.Pool, uint64, error) {
	p, swapped, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return nil, 0, err
	}
	if amountX == 0 || amountY == 0 {
		return nil, 0, amm.ErrZeroAmount
	}

	amountA, amountB := amountX, amountY
	if swapped {
		amountA, amountB = amountY, amountX
	}

	unlock := s.lockPair(p.Key())
	defer unlock()

	if _, err := s.store.GetPool(ctx, p.TokenA, p.TokenB); err == nil {
		return nil, 0, amm.ErrPoolExists
	} else if !errors.Is(err, amm.ErrPoolNotExists) {
		return nil, 0, err
	}

	shares, err := amm.SqrtProduct(amountA, amountB)
	if err != nil {
		return nil, 0, err
	}
	if shares < amm.MinLiquidity {
		return nil, 0, amm.ErrInsufficientLiquidity
	}

	pool := &model.Pool{
		TokenA:      p.TokenA,
		TokenB:      p.TokenB,
		ReserveA:    amountA,
		ReserveB:    amountB,
		TotalShares: shares,
		KLast:       model.KFromReserves(amountA, amountB),
		CreatedAt:   time.Now().UTC(),
	}
	position := &model.LiquidityPosition{
		Provider: provider,
		TokenA:   p.TokenA,
		TokenB:   p.TokenB,
		Shares:   shares,
	}

	if err := s.store.CreatePool(ctx, pool, position); err != nil {
		return nil, 0, err
	}

	metrics.ActivePools.Inc()
	metrics.LiquidityEventsTotal.WithLabelValues("create_pool").Inc()

	slog.Info("pool created",
		"pair", p.Key(),
		"provider", provider,
		"reserve_a", amountA,
		"reserve_b", amountB,
		"shares", shares,
	)
	return pool, shares, nil
}

// --- Liquidity ---

// AddLiquidity deposits amounts preserving the current reserve ratio
// and mints proportional shares. The desired amounts are an upper
// bound; the engine picks the largest ratio-preserving pair within
// them, and rejects with ErrSlippageTooHigh when a final amount falls
// below its minimum.
func (s *Service) AddLiquidity(ctx context.Context, provider, tokenX, tokenY string, amtXDesired, amtYDesired, amtXMin, amtYMin uint64) (uint64, error) {
	p, swapped, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return 0, err
	}

	amtADesired, amtBDesired := amtXDesired, amtYDesired
	amtAMin, amtBMin := amtXMin, amtYMin
	if swapped {
		amtADesired, amtBDesired = amtYDesired, amtXDesired
		amtAMin, amtBMin = amtYMin, amtXMin
	}

	unlock := s.lockPair(p.Key())
	defer unlock()

	pool, err := s.store.GetPool(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, err
	}

	// Pick the largest deposit preserving reserveA:reserveB.
	finalA, finalB := amtADesired, amtBDesired
	amtBOptimal, err := amm.MulDiv(amtADesired, pool.ReserveB, pool.ReserveA)
	if err != nil {
		return 0, err
	}
	if amtBOptimal <= amtBDesired {
		finalB = amtBOptimal
	} else {
		amtAOptimal, err := amm.MulDiv(amtBDesired, pool.ReserveA, pool.ReserveB)
		if err != nil {
			return 0, err
		}
		finalA = amtAOptimal
	}

	if finalA < amtAMin || finalB < amtBMin {
		return 0, amm.ErrSlippageTooHigh
	}

	sharesA, err := amm.MulDiv(finalA, pool.TotalShares, pool.ReserveA)
	if err != nil {
		return 0, err
	}
	sharesB, err := amm.MulDiv(finalB, pool.TotalShares, pool.ReserveB)
	if err != nil {
		return 0, err
	}
	shares := amm.Min(sharesA, sharesB)
	if shares == 0 {
		return 0, amm.ErrInsufficientLiquidity
	}

	if pool.ReserveA, err = checkedAdd(pool.ReserveA, finalA); err != nil {
		return 0, err
	}
	if pool.ReserveB, err = checkedAdd(pool.ReserveB, finalB); err != nil {
		return 0, err
	}
	if pool.TotalShares, err = checkedAdd(pool.TotalShares, shares); err != nil {
		return 0, err
	}
	pool.KLast = model.KFromReserves(pool.ReserveA, pool.ReserveB)

	position, err := s.store.GetPosition(ctx, provider, p.TokenA, p.TokenB)
	if err != nil {
		return 0, err
	}
	if position == nil {
		position = &model.LiquidityPosition{
			Provider: provider,
			TokenA:   p.TokenA,
			TokenB:   p.TokenB,
		}
	}
	if position.Shares, err = checkedAdd(position.Shares, shares); err != nil {
		return 0, err
	}

	if err := s.store.ApplyLiquidity(ctx, pool, position); err != nil {
		return 0, err
	}

	metrics.LiquidityEventsTotal.WithLabelValues("add").Inc()

	slog.Info("liquidity added",
		"pair", p.Key(),
		"provider", provider,
		"amount_a", finalA,
		"amount_b", finalB,
		"shares", shares,
	)
	return shares, nil
}

// RemoveLiquidity burns the given share quantity and pays out the
// strictly proportional slice of both reserves. The position record is
// deleted when its shares reach exactly zero. Returns the payout
// amounts in the caller's token order.
func (s *Service) RemoveLiquidity(ctx context.Context, provider, tokenX, tokenY string, liquidity, amtXMin, amtYMin uint64) (uint64, uint64, error) {
	p, swapped, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return 0, 0, err
	}

	amtAMin, amtBMin := amtXMin, amtYMin
	if swapped {
		amtAMin, amtBMin = amtYMin, amtXMin
	}

	unlock := s.lockPair(p.Key())
	defer unlock()

	pool, err := s.store.GetPool(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, 0, err
	}

	position, err := s.store.GetPosition(ctx, provider, p.TokenA, p.TokenB)
	if err != nil {
		return 0, 0, err
	}
	if position == nil || position.Shares < liquidity {
		return 0, 0, amm.ErrInsufficientBalance
	}

	amountA, err := amm.MulDiv(liquidity, pool.ReserveA, pool.TotalShares)
	if err != nil {
		return 0, 0, err
	}
	amountB, err := amm.MulDiv(liquidity, pool.ReserveB, pool.TotalShares)
	if err != nil {
		return 0, 0, err
	}

	if amountA < amtAMin || amountB < amtBMin {
		return 0, 0, amm.ErrSlippageTooHigh
	}

	pool.ReserveA -= amountA
	pool.ReserveB -= amountB
	pool.TotalShares -= liquidity
	pool.KLast = model.KFromReserves(pool.ReserveA, pool.ReserveB)
	position.Shares -= liquidity

	if err := s.store.ApplyLiquidity(ctx, pool, position); err != nil {
		return 0, 0, err
	}

	metrics.LiquidityEventsTotal.WithLabelValues("remove").Inc()

	slog.Info("liquidity removed",
		"pair", p.Key(),
		"provider", provider,
		"liquidity", liquidity,
		"amount_a", amountA,
		"amount_b", amountB,
	)
	if swapped {
		return amountB, amountA, nil
	}
	return amountA, amountB, nil
}

// --- Swaps ---

// SwapExactIn executes an exact-input swap: the full amountIn enters
// the pool and the fee-adjusted constant-product output leaves it.
// Trading stats accumulate on every exact-in swap.
func (s *Service) SwapExactIn(ctx context.Context, provider string, amountIn, amountOutMin uint64, tokenIn, tokenOut string) (uint64, error) {
	start := time.Now()

	if amountIn == 0 {
		return 0, amm.ErrZeroAmount
	}
	p, _, err := pair.Canonical(tokenIn, tokenOut)
	if err != nil {
		return 0, err
	}

	unlock := s.lockPair(p.Key())
	defer unlock()

	pool, err := s.store.GetPool(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, err
	}

	reserveIn, reserveOut := pool.ReserveA, pool.ReserveB
	if tokenIn == pool.TokenB {
		reserveIn, reserveOut = pool.ReserveB, pool.ReserveA
	}

	amountOut, _, err := amm.GetAmountOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return 0, err
	}
	if amountOut < amountOutMin {
		return 0, amm.ErrSlippageTooHigh
	}
	if amountOut == 0 {
		return 0, amm.ErrInsufficientLiquidity
	}

	newReserveIn, err := checkedAdd(reserveIn, amountIn)
	if err != nil {
		return 0, err
	}
	newReserveOut := reserveOut - amountOut

	// Write back preserving the canonical slot mapping.
	if tokenIn == pool.TokenA {
		pool.ReserveA, pool.ReserveB = newReserveIn, newReserveOut
	} else {
		pool.ReserveA, pool.ReserveB = newReserveOut, newReserveIn
	}
	pool.KLast = model.KFromReserves(pool.ReserveA, pool.ReserveB)

	fillPrice := amm.FillPrice(amountOut, amountIn)

	stats, err := s.store.GetStats(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, err
	}
	if stats == nil {
		stats = &model.TradingStats{TokenA: p.TokenA, TokenB: p.TokenB}
	}
	stats.Volume24h = satAdd(stats.Volume24h, amountIn)
	stats.TradesCount++
	stats.LastPrice = fillPrice

	rec := &model.SwapRecord{
		ID:        uuid.New().String(),
		Provider:  provider,
		TokenA:    p.TokenA,
		TokenB:    p.TokenB,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		Kind:      KindExactIn,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		FillPrice: fillPrice,
		Timestamp: time.Now().UTC(),
	}

	if err := s.store.ApplySwap(ctx, pool, stats, rec); err != nil {
		return 0, err
	}

	metrics.SwapsTotal.WithLabelValues(KindExactIn).Inc()
	metrics.SwapLatency.WithLabelValues(KindExactIn).Observe(time.Since(start).Seconds())
	metrics.PairVolume.WithLabelValues(p.Key()).Add(float64(amountIn))

	slog.Info("swap executed",
		"swap_id", rec.ID,
		"pair", p.Key(),
		"provider", provider,
		"kind", KindExactIn,
		"token_in", tokenIn,
		"amount_in", amountIn,
		"amount_out", amountOut,
		"fill_price", fillPrice,
	)
	s.broadcastSwap(rec)

	return amountOut, nil
}

// SwapExactOut executes an exact-output swap: the pool pays out exactly
// amountOut and charges the ceiling-corrected required input. A request
// for amountOut >= reserveOut always fails — a swap may never fully
// drain one side. Trading stats are not updated here; only exact-in
// swaps accumulate stats.
func (s *Service) SwapExactOut(ctx context.Context, provider string, amountOut, amountInMax uint64, tokenIn, tokenOut string) (uint64, error) {
	start := time.Now()

	if amountOut == 0 {
		return 0, amm.ErrZeroAmount
	}
	p, _, err := pair.Canonical(tokenIn, tokenOut)
	if err != nil {
		return 0, err
	}

	unlock := s.lockPair(p.Key())
	defer unlock()

	pool, err := s.store.GetPool(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, err
	}

	reserveIn, reserveOut := pool.ReserveA, pool.ReserveB
	if tokenIn == pool.TokenB {
		reserveIn, reserveOut = pool.ReserveB, pool.ReserveA
	}

	amountIn, err := amm.GetAmountIn(amountOut, reserveIn, reserveOut)
	if errors.Is(err, amm.ErrInvalidAmount) {
		// A required input beyond the representable range necessarily
		// exceeds any caller bound.
		return 0, amm.ErrSlippageTooHigh
	}
	if err != nil {
		return 0, err
	}
	if amountIn > amountInMax {
		return 0, amm.ErrSlippageTooHigh
	}

	newReserveIn, err := checkedAdd(reserveIn, amountIn)
	if err != nil {
		return 0, err
	}
	newReserveOut := reserveOut - amountOut

	if tokenIn == pool.TokenA {
		pool.ReserveA, pool.ReserveB = newReserveIn, newReserveOut
	} else {
		pool.ReserveA, pool.ReserveB = newReserveOut, newReserveIn
	}
	pool.KLast = model.KFromReserves(pool.ReserveA, pool.ReserveB)

	rec := &model.SwapRecord{
		ID:        uuid.New().String(),
		Provider:  provider,
		TokenA:    p.TokenA,
		TokenB:    p.TokenB,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		Kind:      KindExactOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		FillPrice: amm.FillPrice(amountOut, amountIn),
		Timestamp: time.Now().UTC(),
	}

	if err := s.store.ApplySwap(ctx, pool, nil, rec); err != nil {
		return 0, err
	}

	metrics.SwapsTotal.WithLabelValues(KindExactOut).Inc()
	metrics.SwapLatency.WithLabelValues(KindExactOut).Observe(time.Since(start).Seconds())

	slog.Info("swap executed",
		"swap_id", rec.ID,
		"pair", p.Key(),
		"provider", provider,
		"kind", KindExactOut,
		"token_in", tokenIn,
		"amount_in", amountIn,
		"amount_out", amountOut,
		"fill_price", rec.FillPrice,
	)
	s.broadcastSwap(rec)

	return amountIn, nil
}

// --- Read views ---

// GetPoolInfo returns the pool for a pair.
func (s *Service) GetPoolInfo(ctx context.Context, tokenX, tokenY string) (*model.Pool, error) {
	p, _, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return nil, err
	}
	return s.store.GetPool(ctx, p.TokenA, p.TokenB)
}

// ListPools returns all pools.
func (s *Service) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.store.ListPools(ctx)
}

// GetUserLiquidity returns a provider's position for a pair, or
// (nil, nil) when the provider holds no shares there.
func (s *Service) GetUserLiquidity(ctx context.Context, provider, tokenX, tokenY string) (*model.LiquidityPosition, error) {
	p, _, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return nil, err
	}
	return s.store.GetPosition(ctx, provider, p.TokenA, p.TokenB)
}

// ListUserLiquidity returns all of a provider's positions.
func (s *Service) ListUserLiquidity(ctx context.Context, provider string) ([]model.LiquidityPosition, error) {
	return s.store.ListPositionsByProvider(ctx, provider)
}

// QuoteOut mirrors SwapExactIn's pricing without mutating anything.
// Fails with ErrPoolNotExists when no pool exists for the pair.
func (s *Service) QuoteOut(ctx context.Context, amountIn uint64, tokenIn, tokenOut string) (amountOut, priceImpactBps uint64, err error) {
	p, _, err := pair.Canonical(tokenIn, tokenOut)
	if err != nil {
		return 0, 0, err
	}
	pool, err := s.store.GetPool(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, 0, err
	}
	reserveIn, reserveOut := pool.ReserveA, pool.ReserveB
	if tokenIn == pool.TokenB {
		reserveIn, reserveOut = pool.ReserveB, pool.ReserveA
	}
	return amm.GetAmountOut(amountIn, reserveIn, reserveOut)
}

// QuoteIn mirrors SwapExactOut's pricing without mutating anything.
func (s *Service) QuoteIn(ctx context.Context, amountOut uint64, tokenIn, tokenOut string) (uint64, error) {
	p, _, err := pair.Canonical(tokenIn, tokenOut)
	if err != nil {
		return 0, err
	}
	pool, err := s.store.GetPool(ctx, p.TokenA, p.TokenB)
	if err != nil {
		return 0, err
	}
	reserveIn, reserveOut := pool.ReserveA, pool.ReserveB
	if tokenIn == pool.TokenB {
		reserveIn, reserveOut = pool.ReserveB, pool.ReserveA
	}
	return amm.GetAmountIn(amountOut, reserveIn, reserveOut)
}

// GetTradingStats returns per-pair analytics, or (nil, nil) before the
// first exact-in swap.
func (s *Service) GetTradingStats(ctx context.Context, tokenX, tokenY string) (*model.TradingStats, error) {
	p, _, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return nil, err
	}
	return s.store.GetStats(ctx, p.TokenA, p.TokenB)
}

// GetSwapHistory returns the immutable swap records for a pair.
func (s *Service) GetSwapHistory(ctx context.Context, tokenX, tokenY string) ([]model.SwapRecord, error) {
	p, _, err := pair.Canonical(tokenX, tokenY)
	if err != nil {
		return nil, err
	}
	return s.store.ListSwapsByPair(ctx, p.TokenA, p.TokenB)
}

// GetPriceFeed returns the cached feed for an asset, or (nil, nil).
func (s *Service) GetPriceFeed(ctx context.Context, token string) (*model.PriceFeed, error) {
	return s.store.GetPriceFeed(ctx, token)
}

// GetCurrency returns currency metadata for an asset, or (nil, nil).
func (s *Service) GetCurrency(ctx context.Context, token string) (*model.SupportedCurrency, error) {
	return s.store.GetCurrency(ctx, token)
}

// IsSupportedCurrency reports whether an asset has active currency
// metadata. Advisory only — swap and pool math never consult it.
func (s *Service) IsSupportedCurrency(ctx context.Context, token string) (bool, error) {
	c, err := s.store.GetCurrency(ctx, token)
	if err != nil {
		return false, err
	}
	return c != nil && c.IsActive, nil
}

// --- Admin operations ---

// AddSupportedCurrency registers or replaces currency metadata.
// isAdmin is the host-supplied authorization verdict for this call.
func (s *Service) AddSupportedCurrency(ctx context.Context, isAdmin bool, c *model.SupportedCurrency) error {
	if !isAdmin {
		return amm.ErrNotAuthorized
	}
	if !pair.ValidAsset(c.Token) {
		return amm.ErrInvalidAmount
	}
	if err := s.store.UpsertCurrency(ctx, c); err != nil {
		return err
	}
	slog.Info("currency registered", "token", c.Token, "symbol", c.Symbol, "active", c.IsActive)
	return nil
}

// UpdatePriceFeed stores the latest external price for an asset.
func (s *Service) UpdatePriceFeed(ctx context.Context, isAdmin bool, f *model.PriceFeed) error {
	if !isAdmin {
		return amm.ErrNotAuthorized
	}
	if !pair.ValidAsset(f.Token) {
		return amm.ErrInvalidAmount
	}
	if err := s.store.UpsertPriceFeed(ctx, f); err != nil {
		return err
	}
	slog.Info("price feed updated", "token", f.Token, "price", f.Price, "height", f.LastUpdateHeight)
	return nil
}

func (s *Service) broadcastSwap(rec *model.SwapRecord) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:      "swap_executed",
		TokenA:    rec.TokenA,
		TokenB:    rec.TokenB,
		TokenIn:   rec.TokenIn,
		TokenOut:  rec.TokenOut,
		Kind:      rec.Kind,
		AmountIn:  rec.AmountIn,
		AmountOut: rec.AmountOut,
		FillPrice: model.PriceDecimal(rec.FillPrice).String(),
	})
}
