package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ammx/swap-engine/internal/amm"
	"github.com/ammx/swap-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All amounts are stored as NUMERIC: uint64 does not fit in
// BIGINT and kLast exceeds 64 bits entirely.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func asUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func uintStr(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// isNoRows reports whether err is pgx's empty-result sentinel. Read
// methods use it to distinguish genuine absence from query failures:
// absence maps to the domain's not-found convention, everything else
// propagates wrapped.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (s *PostgresStore) CreatePool(ctx context.Context, pool *model.Pool, position *model.LiquidityPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO pools (token_a, token_b, reserve_a, reserve_b, total_shares, k_last, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
		pool.TokenA, pool.TokenB,
		uintStr(pool.ReserveA), uintStr(pool.ReserveB), uintStr(pool.TotalShares),
		pool.KLast.String(), pool.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s/%s", amm.ErrPoolExists, pool.TokenA, pool.TokenB)
		}
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO liquidity_positions (provider, token_a, token_b, shares)
		 VALUES ($1, $2, $3, $4::NUMERIC)`,
		position.Provider, position.TokenA, position.TokenB, uintStr(position.Shares),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyLiquidity(ctx context.Context, pool *model.Pool, position *model.LiquidityPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePool(ctx, tx, pool); err != nil {
		return err
	}

	if position.Shares == 0 {
		_, err = tx.Exec(ctx,
			`DELETE FROM liquidity_positions
			 WHERE provider = $1 AND token_a = $2 AND token_b = $3`,
			position.Provider, position.TokenA, position.TokenB,
		)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO liquidity_positions (provider, token_a, token_b, shares)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (provider, token_a, token_b)
			 DO UPDATE SET shares = EXCLUDED.shares`,
			position.Provider, position.TokenA, position.TokenB, uintStr(position.Shares),
		)
	}
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplySwap(ctx context.Context, pool *model.Pool, stats *model.TradingStats, rec *model.SwapRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePool(ctx, tx, pool); err != nil {
		return err
	}

	if stats != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO trading_stats (token_a, token_b, volume_24h, trades_count, last_price)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (token_a, token_b)
			 DO UPDATE SET volume_24h = EXCLUDED.volume_24h,
			               trades_count = EXCLUDED.trades_count,
			               last_price = EXCLUDED.last_price`,
			stats.TokenA, stats.TokenB,
			uintStr(stats.Volume24h), uintStr(stats.TradesCount), uintStr(stats.LastPrice),
		)
		if err != nil {
			return err
		}
	}

	if rec != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO swap_records
			   (id, provider, token_a, token_b, token_in, token_out, kind, amount_in, amount_out, fill_price, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			rec.ID, rec.Provider, rec.TokenA, rec.TokenB, rec.TokenIn, rec.TokenOut, rec.Kind,
			uintStr(rec.AmountIn), uintStr(rec.AmountOut), uintStr(rec.FillPrice), rec.Timestamp,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updatePool(ctx context.Context, ex pgxExecer, pool *model.Pool) error {
	tag, err := ex.Exec(ctx,
		`UPDATE pools
		 SET reserve_a = $3::NUMERIC, reserve_b = $4::NUMERIC,
		     total_shares = $5::NUMERIC, k_last = $6::NUMERIC
		 WHERE token_a = $1 AND token_b = $2`,
		pool.TokenA, pool.TokenB,
		uintStr(pool.ReserveA), uintStr(pool.ReserveB),
		uintStr(pool.TotalShares), pool.KLast.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", amm.ErrPoolNotExists, pool.TokenA, pool.TokenB)
	}
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, tokenA, tokenB string) (*model.Pool, error) {
	var p model.Pool
	var reserveA, reserveB, totalShares, kLast string

	err := s.pool.QueryRow(ctx,
		`SELECT token_a, token_b,
		        reserve_a::TEXT, reserve_b::TEXT, total_shares::TEXT, k_last::TEXT,
		        created_at
		 FROM pools WHERE token_a = $1 AND token_b = $2`, tokenA, tokenB).
		Scan(&p.TokenA, &p.TokenB, &reserveA, &reserveB, &totalShares, &kLast, &p.CreatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s/%s", amm.ErrPoolNotExists, tokenA, tokenB)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s/%s: %w", tokenA, tokenB, err)
	}

	p.ReserveA = asUint(reserveA)
	p.ReserveB = asUint(reserveB)
	p.TotalShares = asUint(totalShares)
	p.KLast, _ = decimal.NewFromString(kLast)

	return &p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token_a, token_b,
		        reserve_a::TEXT, reserve_b::TEXT, total_shares::TEXT, k_last::TEXT,
		        created_at
		 FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		var reserveA, reserveB, totalShares, kLast string
		if err := rows.Scan(&p.TokenA, &p.TokenB,
			&reserveA, &reserveB, &totalShares, &kLast, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ReserveA = asUint(reserveA)
		p.ReserveB = asUint(reserveB)
		p.TotalShares = asUint(totalShares)
		p.KLast, _ = decimal.NewFromString(kLast)
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, provider, tokenA, tokenB string) (*model.LiquidityPosition, error) {
	var pos model.LiquidityPosition
	var shares string

	err := s.pool.QueryRow(ctx,
		`SELECT provider, token_a, token_b, shares::TEXT
		 FROM liquidity_positions
		 WHERE provider = $1 AND token_a = $2 AND token_b = $3`,
		provider, tokenA, tokenB).
		Scan(&pos.Provider, &pos.TokenA, &pos.TokenB, &shares)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s %s/%s: %w", provider, tokenA, tokenB, err)
	}

	pos.Shares = asUint(shares)
	return &pos, nil
}

func (s *PostgresStore) ListPositionsByProvider(ctx context.Context, provider string) ([]model.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, token_a, token_b, shares::TEXT
		 FROM liquidity_positions WHERE provider = $1
		 ORDER BY token_a, token_b`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.LiquidityPosition
	for rows.Next() {
		var pos model.LiquidityPosition
		var shares string
		if err := rows.Scan(&pos.Provider, &pos.TokenA, &pos.TokenB, &shares); err != nil {
			return nil, err
		}
		pos.Shares = asUint(shares)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context, tokenA, tokenB string) (*model.TradingStats, error) {
	var st model.TradingStats
	var volume, trades, lastPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT token_a, token_b, volume_24h::TEXT, trades_count::TEXT, last_price::TEXT
		 FROM trading_stats WHERE token_a = $1 AND token_b = $2`, tokenA, tokenB).
		Scan(&st.TokenA, &st.TokenB, &volume, &trades, &lastPrice)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats %s/%s: %w", tokenA, tokenB, err)
	}

	st.Volume24h = asUint(volume)
	st.TradesCount = asUint(trades)
	st.LastPrice = asUint(lastPrice)
	return &st, nil
}

func (s *PostgresStore) ListSwapsByPair(ctx context.Context, tokenA, tokenB string) ([]model.SwapRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, token_a, token_b, token_in, token_out, kind,
		        amount_in::TEXT, amount_out::TEXT, fill_price::TEXT, timestamp
		 FROM swap_records WHERE token_a = $1 AND token_b = $2
		 ORDER BY timestamp`, tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.SwapRecord
	for rows.Next() {
		var r model.SwapRecord
		var amountIn, amountOut, fillPrice string
		if err := rows.Scan(&r.ID, &r.Provider, &r.TokenA, &r.TokenB, &r.TokenIn, &r.TokenOut,
			&r.Kind, &amountIn, &amountOut, &fillPrice, &r.Timestamp); err != nil {
			return nil, err
		}
		r.AmountIn = asUint(amountIn)
		r.AmountOut = asUint(amountOut)
		r.FillPrice = asUint(fillPrice)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) UpsertCurrency(ctx context.Context, c *model.SupportedCurrency) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO supported_currencies (token, name, symbol, decimals, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token)
		 DO UPDATE SET name = EXCLUDED.name, symbol = EXCLUDED.symbol,
		               decimals = EXCLUDED.decimals, is_active = EXCLUDED.is_active`,
		c.Token, c.Name, c.Symbol, c.Decimals, c.IsActive,
	)
	return err
}

func (s *PostgresStore) GetCurrency(ctx context.Context, token string) (*model.SupportedCurrency, error) {
	var c model.SupportedCurrency
	err := s.pool.QueryRow(ctx,
		`SELECT token, name, symbol, decimals, is_active
		 FROM supported_currencies WHERE token = $1`, token).
		Scan(&c.Token, &c.Name, &c.Symbol, &c.Decimals, &c.IsActive)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get currency %s: %w", token, err)
	}
	return &c, nil
}

func (s *PostgresStore) UpsertPriceFeed(ctx context.Context, f *model.PriceFeed) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_feeds (token, price, last_update_height, is_valid)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (token)
		 DO UPDATE SET price = EXCLUDED.price,
		               last_update_height = EXCLUDED.last_update_height,
		               is_valid = EXCLUDED.is_valid`,
		f.Token, uintStr(f.Price), uintStr(f.LastUpdateHeight), f.IsValid,
	)
	return err
}

func (s *PostgresStore) GetPriceFeed(ctx context.Context, token string) (*model.PriceFeed, error) {
	var f model.PriceFeed
	var price, height string
	err := s.pool.QueryRow(ctx,
		`SELECT token, price::TEXT, last_update_height::TEXT, is_valid
		 FROM price_feeds WHERE token = $1`, token).
		Scan(&f.Token, &price, &height, &f.IsValid)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get price feed %s: %w", token, err)
	}
	f.Price = asUint(price)
	f.LastUpdateHeight = asUint(height)
	return &f, nil
}
