package pair

import (
	"errors"
	"testing"

	"github.com/ammx/swap-engine/internal/amm"
)

func TestCanonical_OrderInvariant(t *testing.T) {
	p1, swapped1, err := Canonical("usd", "btc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, swapped2, err := Canonical("btc", "usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p1 != p2 {
		t.Errorf("canonical pairs differ: %v vs %v", p1, p2)
	}
	if p1.Key() != p2.Key() {
		t.Errorf("keys differ: %s vs %s", p1.Key(), p2.Key())
	}
	if p1.TokenA != "btc" || p1.TokenB != "usd" {
		t.Errorf("expected btc/usd, got %s", p1.Key())
	}
	if swapped1 == swapped2 {
		t.Error("exactly one argument order should report swapped")
	}
}

func TestCanonical_IdenticalTokens(t *testing.T) {
	_, _, err := Canonical("usd", "usd")
	if !errors.Is(err, amm.ErrIdenticalTokens) {
		t.Errorf("expected ErrIdenticalTokens, got %v", err)
	}
}

func TestCanonical_InvalidAssetIDs(t *testing.T) {
	bad := []string{
		"",
		"-leading-dash",
		".dot",
		"has space",
		"a/b",
		"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long-asset-identifier",
	}
	for _, id := range bad {
		if _, _, err := Canonical(id, "usd"); !errors.Is(err, amm.ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for asset id %q, got %v", id, err)
		}
		if ValidAsset(id) {
			t.Errorf("ValidAsset(%q) should be false", id)
		}
	}
}

func TestCanonical_ValidAssetIDs(t *testing.T) {
	good := []string{"usd", "BTC", "usd-token", "hbd.v2", "a", "x_1"}
	for _, id := range good {
		if !ValidAsset(id) {
			t.Errorf("ValidAsset(%q) should be true", id)
		}
	}
}

func TestKey_Separator(t *testing.T) {
	p, _, err := Canonical("aa", "ab")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Key() != "aa/ab" {
		t.Errorf("expected key aa/ab, got %s", p.Key())
	}
}
