package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ammx/swap-engine/internal/model"
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

func (s *CachedStore) CreatePool(ctx context.Context, pool *model.Pool, position *model.LiquidityPosition) error {
	if err := s.primary.CreatePool(ctx, pool, position); err != nil {
		return err
	}
	s.cachePool(ctx, pool)
	return nil
}

func (s *CachedStore) ApplyLiquidity(ctx context.Context, pool *model.Pool, position *model.LiquidityPosition) error {
	if err := s.primary.ApplyLiquidity(ctx, pool, position); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, poolKey(pool.TokenA, pool.TokenB))
	return nil
}

func (s *CachedStore) ApplySwap(ctx context.Context, pool *model.Pool, stats *model.TradingStats, rec *model.SwapRecord) error {
	if err := s.primary.ApplySwap(ctx, pool, stats, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(pool.TokenA, pool.TokenB), statsKey(pool.TokenA, pool.TokenB))
	return nil
}

func (s *CachedStore) UpsertPriceFeed(ctx context.Context, f *model.PriceFeed) error {
	if err := s.primary.UpsertPriceFeed(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, feedKey(f.Token))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, tokenA, tokenB string) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(tokenA, tokenB)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPool(ctx, tokenA, tokenB)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) GetStats(ctx context.Context, tokenA, tokenB string) (*model.TradingStats, error) {
	data, err := s.rdb.Get(ctx, statsKey(tokenA, tokenB)).Bytes()
	if err == nil {
		var st model.TradingStats
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetStats(ctx, tokenA, tokenB)
	if err != nil || st == nil {
		return st, err
	}

	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, statsKey(tokenA, tokenB), data, s.ttl)
	}
	return st, nil
}

func (s *CachedStore) GetPriceFeed(ctx context.Context, token string) (*model.PriceFeed, error) {
	data, err := s.rdb.Get(ctx, feedKey(token)).Bytes()
	if err == nil {
		var f model.PriceFeed
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
	}

	f, err := s.primary.GetPriceFeed(ctx, token)
	if err != nil || f == nil {
		return f, err
	}

	if data, err := json.Marshal(f); err == nil {
		s.rdb.Set(ctx, feedKey(token), data, s.ttl)
	}
	return f, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, provider, tokenA, tokenB string) (*model.LiquidityPosition, error) {
	return s.primary.GetPosition(ctx, provider, tokenA, tokenB)
}

func (s *CachedStore) ListPositionsByProvider(ctx context.Context, provider string) ([]model.LiquidityPosition, error) {
	return s.primary.ListPositionsByProvider(ctx, provider)
}

func (s *CachedStore) ListSwapsByPair(ctx context.Context, tokenA, tokenB string) ([]model.SwapRecord, error) {
	return s.primary.ListSwapsByPair(ctx, tokenA, tokenB)
}

func (s *CachedStore) UpsertCurrency(ctx context.Context, c *model.SupportedCurrency) error {
	return s.primary.UpsertCurrency(ctx, c)
}

func (s *CachedStore) GetCurrency(ctx context.Context, token string) (*model.SupportedCurrency, error) {
	return s.primary.GetCurrency(ctx, token)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.TokenA, p.TokenB), data, s.ttl)
	}
}

func poolKey(a, b string) string  { return fmt.Sprintf("pool:%s/%s", a, b) }
func statsKey(a, b string) string { return fmt.Sprintf("stats:%s/%s", a, b) }
func feedKey(token string) string { return fmt.Sprintf("feed:%s", token) }
