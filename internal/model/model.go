// Package model defines the core domain types shared across the pool
// engine. Amounts are non-negative fixed-point integers (uint64);
// prices carry 8 implied decimal places. KLast uses shopspring/decimal
// because the reserve product exceeds 64 bits.
package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// priceDecimals is the number of implied decimal places in fixed-point
// prices (lastPrice, price feeds).
const priceDecimals = 8

// Pool holds the reserves and share supply for one canonical token
// pair. A pool is either fully empty (both reserves and totalShares
// zero) or fully funded (all three positive); it is created exactly
// once per pair and never deleted.
type Pool struct {
	TokenA      string          `json:"token_a" db:"token_a"`
	TokenB      string          `json:"token_b" db:"token_b"`
	ReserveA    uint64          `json:"reserve_a" db:"reserve_a"`
	ReserveB    uint64          `json:"reserve_b" db:"reserve_b"`
	TotalShares uint64          `json:"total_shares" db:"total_shares"`
	KLast       decimal.Decimal `json:"k_last" db:"k_last"` // reserveA*reserveB at last mutation
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// LiquidityPosition is one provider's share claim on a pool. Shares
// are a proportional claim on current reserves, never absolute token
// amounts. A position is deleted when its shares reach exactly zero.
type LiquidityPosition struct {
	Provider string `json:"provider" db:"provider"`
	TokenA   string `json:"token_a" db:"token_a"`
	TokenB   string `json:"token_b" db:"token_b"`
	Shares   uint64 `json:"shares" db:"shares"`
}

// TradingStats accumulates per-pair swap analytics. Volume24h is
// cumulative since pool creation (the name is historical — it is not
// windowed). Updated on exact-input swaps only.
type TradingStats struct {
	TokenA      string `json:"token_a" db:"token_a"`
	TokenB      string `json:"token_b" db:"token_b"`
	Volume24h   uint64 `json:"volume_24h" db:"volume_24h"`
	TradesCount uint64 `json:"trades_count" db:"trades_count"`
	LastPrice   uint64 `json:"last_price" db:"last_price"` // 8-dp fixed point
}

// SupportedCurrency is administrative asset metadata. Advisory only:
// pool and swap math never consult it.
type SupportedCurrency struct {
	Token    string `json:"token" db:"token"`
	Name     string `json:"name" db:"name"`
	Symbol   string `json:"symbol" db:"symbol"`
	Decimals uint32 `json:"decimals" db:"decimals"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// PriceFeed is a cached external USD price for one asset, 8 implied
// decimals. Informational; never consumed by swap math.
type PriceFeed struct {
	Token            string `json:"token" db:"token"`
	Price            uint64 `json:"price" db:"price"`
	LastUpdateHeight uint64 `json:"last_update_height" db:"last_update_height"`
	IsValid          bool   `json:"is_valid" db:"is_valid"`
}

// SwapRecord is an immutable record of an executed swap. Once created,
// these are never modified or deleted.
type SwapRecord struct {
	ID        string    `json:"id" db:"id"`
	Provider  string    `json:"provider" db:"provider"`
	TokenA    string    `json:"token_a" db:"token_a"`
	TokenB    string    `json:"token_b" db:"token_b"`
	TokenIn   string    `json:"token_in" db:"token_in"`
	TokenOut  string    `json:"token_out" db:"token_out"`
	Kind      string    `json:"kind" db:"kind"` // "exact_in" or "exact_out"
	AmountIn  uint64    `json:"amount_in" db:"amount_in"`
	AmountOut uint64    `json:"amount_out" db:"amount_out"`
	FillPrice uint64    `json:"fill_price" db:"fill_price"` // 8-dp fixed point
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// KFromReserves returns the exact reserve product as a decimal.
func KFromReserves(reserveA, reserveB uint64) decimal.Decimal {
	p := new(big.Int).Mul(
		new(big.Int).SetUint64(reserveA),
		new(big.Int).SetUint64(reserveB))
	return decimal.NewFromBigInt(p, 0)
}

// PriceDecimal renders an 8-dp fixed-point price as a decimal value.
func PriceDecimal(p uint64) decimal.Decimal {
	return decimal.NewFromUint64(p).Shift(-priceDecimals)
}

// ParsePrice converts a decimal price string into its 8-dp fixed-point
// representation. Values that are negative, carry more than 8 decimal
// places, or exceed the representable range are rejected.
func ParsePrice(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	scaled := d.Shift(priceDecimals)
	if scaled.IsNegative() {
		return 0, fmt.Errorf("invalid price %q: negative", s)
	}
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("invalid price %q: more than %d decimal places", s, priceDecimals)
	}
	b := scaled.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("invalid price %q: out of range", s)
	}
	return b.Uint64(), nil
}
