package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ammx/swap-engine/internal/amm"
	"github.com/ammx/swap-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	pools      map[string]*model.Pool              // pair key → pool
	positions  map[string]*model.LiquidityPosition // provider|pair key → position
	stats      map[string]*model.TradingStats      // pair key → stats
	swaps      map[string][]model.SwapRecord       // pair key → records
	currencies map[string]*model.SupportedCurrency // token → metadata
	feeds      map[string]*model.PriceFeed         // token → feed
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:      make(map[string]*model.Pool),
		positions:  make(map[string]*model.LiquidityPosition),
		stats:      make(map[string]*model.TradingStats),
		swaps:      make(map[string][]model.SwapRecord),
		currencies: make(map[string]*model.SupportedCurrency),
		feeds:      make(map[string]*model.PriceFeed),
	}
}

func pairMapKey(tokenA, tokenB string) string {
	return tokenA + "/" + tokenB
}

func positionMapKey(provider, tokenA, tokenB string) string {
	return provider + "|" + tokenA + "/" + tokenB
}

func (s *MemoryStore) CreatePool(_ context.Context, pool *model.Pool, position *model.LiquidityPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairMapKey(pool.TokenA, pool.TokenB)
	if _, ok := s.pools[key]; ok {
		return fmt.Errorf("%w: %s", amm.ErrPoolExists, key)
	}

	// Store copies to avoid external mutation.
	p := *pool
	pos := *position
	s.pools[key] = &p
	s.positions[positionMapKey(position.Provider, pool.TokenA, pool.TokenB)] = &pos
	return nil
}

func (s *MemoryStore) ApplyLiquidity(_ context.Context, pool *model.Pool, position *model.LiquidityPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairMapKey(pool.TokenA, pool.TokenB)
	if _, ok := s.pools[key]; !ok {
		return fmt.Errorf("%w: %s", amm.ErrPoolNotExists, key)
	}

	p := *pool
	s.pools[key] = &p

	posKey := positionMapKey(position.Provider, pool.TokenA, pool.TokenB)
	if position.Shares == 0 {
		delete(s.positions, posKey)
		return nil
	}
	pos := *position
	s.positions[posKey] = &pos
	return nil
}

func (s *MemoryStore) ApplySwap(_ context.Context, pool *model.Pool, stats *model.TradingStats, rec *model.SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairMapKey(pool.TokenA, pool.TokenB)
	if _, ok := s.pools[key]; !ok {
		return fmt.Errorf("%w: %s", amm.ErrPoolNotExists, key)
	}

	p := *pool
	s.pools[key] = &p

	if stats != nil {
		st := *stats
		s.stats[key] = &st
	}
	if rec != nil {
		s.swaps[key] = append(s.swaps[key], *rec)
	}
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, tokenA, tokenB string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[pairMapKey(tokenA, tokenB)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", amm.ErrPoolNotExists, tokenA, tokenB)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	return pools, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, provider, tokenA, tokenB string) (*model.LiquidityPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[positionMapKey(provider, tokenA, tokenB)]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByProvider(_ context.Context, provider string) ([]model.LiquidityPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiquidityPosition
	for _, pos := range s.positions {
		if pos.Provider == provider {
			result = append(result, *pos)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetStats(_ context.Context, tokenA, tokenB string) (*model.TradingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[pairMapKey(tokenA, tokenB)]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListSwapsByPair(_ context.Context, tokenA, tokenB string) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.swaps[pairMapKey(tokenA, tokenB)]
	result := make([]model.SwapRecord, len(recs))
	copy(result, recs)
	return result, nil
}

func (s *MemoryStore) UpsertCurrency(_ context.Context, c *model.SupportedCurrency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.currencies[c.Token] = &cp
	return nil
}

func (s *MemoryStore) GetCurrency(_ context.Context, token string) (*model.SupportedCurrency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.currencies[token]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpsertPriceFeed(_ context.Context, f *model.PriceFeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	s.feeds[f.Token] = &cp
	return nil
}

func (s *MemoryStore) GetPriceFeed(_ context.Context, token string) (*model.PriceFeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[token]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}
