// Package amm implements the fixed-point math kernel for the
// constant-product automated market maker.
//
// All amounts are non-negative fixed-point integers (uint64 at the
// boundary). Intermediate products use math/big so that pricing never
// wraps; every division truncates toward zero. The fee is a fixed
// 30 bps — there is no per-pool fee configuration.
package amm

import "math/big"

const (
	// FeeRateBps is the swap fee in basis points (0.3%).
	FeeRateBps = 30

	// BpsDenominator is the basis-point scale.
	BpsDenominator = 10000

	// MinLiquidity is the minimum share quantity a pool may be created
	// with. Creations computing fewer shares are rejected.
	MinLiquidity = 1000

	// PriceScale is the fixed-point scale for prices: 8 implied decimals.
	PriceScale = 100_000_000
)

var (
	bigBpsDen     = big.NewInt(BpsDenominator)
	bigFeeFactor  = big.NewInt(BpsDenominator - FeeRateBps)
	bigPriceScale = big.NewInt(PriceScale)
	bigMaxUint64  = new(big.Int).SetUint64(^uint64(0))
)

// IntegerSqrt returns an integer approximation of the square root of n,
// seeded at (n+1)/2 and refined by exactly 7 Newton-Raphson steps.
//
// The fixed iteration count (rather than a convergence loop) is the
// historical behavior of this engine: for large n the result retains an
// upward bias, and share quantities depend on that exact value. Every
// share computation funnels through this function, so quantities stay
// self-consistent. n == 0 and n == 1 are fixed points.
func IntegerSqrt(n *big.Int) *big.Int {
	if n.Sign() <= 0 || n.Cmp(big.NewInt(1)) == 0 {
		return new(big.Int).Set(n)
	}

	one := big.NewInt(1)
	two := big.NewInt(2)

	// seed = (n + 1) / 2
	x := new(big.Int).Add(n, one)
	x.Div(x, two)

	q := new(big.Int)
	for i := 0; i < 7; i++ {
		// x = (x + n/x) / 2
		q.Div(n, x)
		x.Add(x, q)
		x.Div(x, two)
	}
	return x
}

// SqrtProduct returns IntegerSqrt(a * b) as a uint64. ErrInvalidAmount
// is returned when the result does not fit in 64 bits.
func SqrtProduct(a, b uint64) (uint64, error) {
	p := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	r := IntegerSqrt(p)
	if r.Cmp(bigMaxUint64) > 0 {
		return 0, ErrInvalidAmount
	}
	return r.Uint64(), nil
}

// GetAmountOut prices an exact-input swap against the constant-product
// curve with the 30 bps fee applied to the input:
//
//	amountInWithFee = amountIn * (10000 - fee)
//	amountOut       = amountInWithFee * reserveOut / (reserveIn*10000 + amountInWithFee)
//	priceImpactBps  = amountOut * 10000 / reserveOut
//
// Both divisions truncate. The result is always strictly below
// reserveOut, so a swap can never fully drain one side.
func GetAmountOut(amountIn, reserveIn, reserveOut uint64) (amountOut, priceImpactBps uint64, err error) {
	if amountIn == 0 {
		return 0, 0, ErrZeroAmount
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, 0, ErrInsufficientLiquidity
	}

	inWithFee := new(big.Int).Mul(new(big.Int).SetUint64(amountIn), bigFeeFactor)

	den := new(big.Int).Mul(new(big.Int).SetUint64(reserveIn), bigBpsDen)
	den.Add(den, inWithFee)

	out := new(big.Int).Mul(inWithFee, new(big.Int).SetUint64(reserveOut))
	out.Div(out, den)

	impact := new(big.Int).Mul(out, bigBpsDen)
	impact.Div(impact, new(big.Int).SetUint64(reserveOut))

	return out.Uint64(), impact.Uint64(), nil
}

// GetAmountIn is the inverse pricing formula: the input required to
// receive exactly amountOut from the given reserves.
//
//	amountIn = reserveIn*amountOut*10000 / ((reserveOut-amountOut)*(10000-fee)) + 1
//
// The +1 is a deliberate ceiling correction so truncation never
// under-charges the pool; callers must not subtract it back out.
// amountOut must be strictly below reserveOut. ErrInvalidAmount is
// returned when the required input does not fit in 64 bits.
func GetAmountIn(amountOut, reserveIn, reserveOut uint64) (uint64, error) {
	if amountOut == 0 {
		return 0, ErrZeroAmount
	}
	if reserveIn == 0 || amountOut >= reserveOut {
		return 0, ErrInsufficientLiquidity
	}

	num := new(big.Int).Mul(new(big.Int).SetUint64(reserveIn), new(big.Int).SetUint64(amountOut))
	num.Mul(num, bigBpsDen)

	den := new(big.Int).SetUint64(reserveOut - amountOut)
	den.Mul(den, bigFeeFactor)

	num.Div(num, den)
	num.Add(num, big.NewInt(1))

	if num.Cmp(bigMaxUint64) > 0 {
		return 0, ErrInvalidAmount
	}
	return num.Uint64(), nil
}

// MulDiv returns floor(a * b / den) with a 128-bit intermediate.
// ErrInvalidAmount is returned when the quotient overflows uint64.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrInvalidAmount
	}
	q := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	q.Div(q, new(big.Int).SetUint64(den))
	if q.Cmp(bigMaxUint64) > 0 {
		return 0, ErrInvalidAmount
	}
	return q.Uint64(), nil
}

// FillPrice returns the executed price of a swap as an 8-decimal
// fixed-point quantity: floor(amountOut * 1e8 / amountIn). Saturates at
// the maximum representable value.
func FillPrice(amountOut, amountIn uint64) uint64 {
	if amountIn == 0 {
		return 0
	}
	p := new(big.Int).Mul(new(big.Int).SetUint64(amountOut), bigPriceScale)
	p.Div(p, new(big.Int).SetUint64(amountIn))
	if p.Cmp(bigMaxUint64) > 0 {
		return ^uint64(0)
	}
	return p.Uint64()
}

// Min returns the smaller of two amounts.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
