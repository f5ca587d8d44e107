package amm

import "errors"

// Flat error taxonomy shared by every layer of the engine. All failures
// are synchronous business-rule rejections; none are retried internally.
var (
	// ErrNotAuthorized is returned when an admin operation is attempted
	// by a caller the injected authorization predicate rejects.
	ErrNotAuthorized = errors.New("amm: not authorized")

	// ErrInsufficientBalance is returned when a provider tries to remove
	// more liquidity shares than their position holds.
	ErrInsufficientBalance = errors.New("amm: insufficient share balance")

	// ErrInsufficientLiquidity is returned when a pool cannot support the
	// requested operation: initial shares below MinLiquidity, a swap that
	// would produce zero output, or an exact-out request that would drain
	// a reserve.
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")

	// ErrSlippageTooHigh is returned when a computed amount violates the
	// caller's min/max bound.
	ErrSlippageTooHigh = errors.New("amm: slippage tolerance exceeded")

	// ErrInvalidAmount is returned for malformed inputs: an amount that
	// cannot be represented (e.g. a reserve or share quantity that would
	// overflow uint64) or an asset identifier that fails validation.
	ErrInvalidAmount = errors.New("amm: invalid amount or identifier")

	// ErrPoolNotExists is returned when no pool exists for the pair.
	ErrPoolNotExists = errors.New("amm: pool does not exist")

	// ErrZeroAmount is returned when a required amount is zero.
	ErrZeroAmount = errors.New("amm: amount must be positive")

	// ErrIdenticalTokens is returned when both sides of a pair name the
	// same asset.
	ErrIdenticalTokens = errors.New("amm: identical tokens")

	// ErrPoolExists is returned on duplicate pool creation.
	ErrPoolExists = errors.New("amm: pool already exists")
)
