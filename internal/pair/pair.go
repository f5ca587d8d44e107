// Package pair handles asset identifier validation and canonical
// ordering of token pairs. Every pool, position, and stats lookup keys
// through a canonical pair so that (A, B) and (B, A) resolve to the
// same record.
package pair

import (
	"fmt"
	"regexp"

	"github.com/ammx/swap-engine/internal/amm"
)

// assetRegex matches an asset identifier: leading alphanumeric, then up
// to 31 of [A-Za-z0-9._-]. Examples: "usd-token", "wbtc", "hbd.v2".
var assetRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,31}$`)

// Pair is a canonically ordered token pair. TokenA sorts strictly
// before TokenB. Construct only via Canonical.
type Pair struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
}

// Canonical validates both asset identifiers and returns the pair in
// canonical order. The ordering is plain lexicographic byte order —
// any stable total order works, and this one needs no hashing.
// swapped reports whether the arguments arrived in reverse order, so
// callers can map caller-side amounts onto canonical slots.
func Canonical(tokenX, tokenY string) (p Pair, swapped bool, err error) {
	if !assetRegex.MatchString(tokenX) {
		return Pair{}, false, fmt.Errorf("%w: invalid asset id %q", amm.ErrInvalidAmount, tokenX)
	}
	if !assetRegex.MatchString(tokenY) {
		return Pair{}, false, fmt.Errorf("%w: invalid asset id %q", amm.ErrInvalidAmount, tokenY)
	}
	if tokenX == tokenY {
		return Pair{}, false, fmt.Errorf("%w: %s", amm.ErrIdenticalTokens, tokenX)
	}
	if tokenX < tokenY {
		return Pair{TokenA: tokenX, TokenB: tokenY}, false, nil
	}
	return Pair{TokenA: tokenY, TokenB: tokenX}, true, nil
}

// ValidAsset reports whether id is a well-formed asset identifier.
func ValidAsset(id string) bool {
	return assetRegex.MatchString(id)
}

// Key returns the storage key for the pair: "{tokenA}/{tokenB}".
// The "/" separator cannot appear in asset ids, so keys never collide.
func (p Pair) Key() string {
	return p.TokenA + "/" + p.TokenB
}

// String implements fmt.Stringer.
func (p Pair) String() string {
	return p.Key()
}
