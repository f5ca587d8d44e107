package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

// The read methods must treat only pgx's empty-result sentinel as
// absence; any other query error (connection loss, timeout) has to
// propagate so callers never mistake an outage for a missing record.
func TestIsNoRows(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no rows", pgx.ErrNoRows, true},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), true},
		{"connection failure", errors.New("connection refused"), false},
		{"context canceled", fmt.Errorf("query: %w", errors.New("context canceled")), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := isNoRows(tt.err); got != tt.want {
			t.Errorf("%s: isNoRows = %v, want %v", tt.name, got, tt.want)
		}
	}
}
