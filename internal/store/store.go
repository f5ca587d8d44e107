// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// Mutation methods are coarse on purpose: each one commits every record
// a single engine operation touches, or none of them. Token arguments
// are always in canonical pair order.
package store

import (
	"context"

	"github.com/ammx/swap-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	// --- Pool mutations (whole-state atomic) ---

	// CreatePool persists a new pool together with the creator's
	// initial liquidity position. Fails with amm.ErrPoolExists if a
	// pool already exists for the pair.
	CreatePool(ctx context.Context, pool *model.Pool, position *model.LiquidityPosition) error

	// ApplyLiquidity replaces the pool record and upserts the provider's
	// position in one commit. A position with zero shares is deleted,
	// never stored.
	ApplyLiquidity(ctx context.Context, pool *model.Pool, position *model.LiquidityPosition) error

	// ApplySwap replaces the pool record, upserts trading stats when
	// stats is non-nil, and appends the immutable swap record, all in
	// one commit.
	ApplySwap(ctx context.Context, pool *model.Pool, stats *model.TradingStats, rec *model.SwapRecord) error

	// --- Pool reads ---

	// GetPool retrieves a pool by canonical pair. Fails with
	// amm.ErrPoolNotExists when absent.
	GetPool(ctx context.Context, tokenA, tokenB string) (*model.Pool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// --- Positions ---

	// GetPosition returns a provider's position for a pair, or
	// (nil, nil) when the provider holds no shares there.
	GetPosition(ctx context.Context, provider, tokenA, tokenB string) (*model.LiquidityPosition, error)

	// ListPositionsByProvider returns all of a provider's positions.
	ListPositionsByProvider(ctx context.Context, provider string) ([]model.LiquidityPosition, error)

	// --- Analytics ---

	// GetStats returns trading stats for a pair, or (nil, nil) before
	// the first exact-in swap.
	GetStats(ctx context.Context, tokenA, tokenB string) (*model.TradingStats, error)

	// ListSwapsByPair returns the immutable swap records for a pair in
	// execution order.
	ListSwapsByPair(ctx context.Context, tokenA, tokenB string) ([]model.SwapRecord, error)

	// --- Administrative metadata ---

	// UpsertCurrency creates or replaces supported-currency metadata.
	UpsertCurrency(ctx context.Context, c *model.SupportedCurrency) error

	// GetCurrency returns currency metadata, or (nil, nil) when absent.
	GetCurrency(ctx context.Context, token string) (*model.SupportedCurrency, error)

	// UpsertPriceFeed creates or replaces a price-feed entry.
	UpsertPriceFeed(ctx context.Context, f *model.PriceFeed) error

	// GetPriceFeed returns the cached feed, or (nil, nil) when absent.
	GetPriceFeed(ctx context.Context, token string) (*model.PriceFeed, error)
}
