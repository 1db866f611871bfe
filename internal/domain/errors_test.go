package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestExchangeError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewExchangeError("submit", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "exchange submit: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "exchange submit: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("permanent error", func(t *testing.T) {
		err := NewPermanentExchangeError("submit", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})
}

func TestLedgerError(t *testing.T) {
	baseErr := errors.New("blockhash not found")

	t.Run("retriable error", func(t *testing.T) {
		err := NewLedgerError("record", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "ledger record: blockhash not found" {
			t.Errorf("Error message = %q", err.Error())
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("permanent error", func(t *testing.T) {
		err := NewPermanentLedgerError("record", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"retriable exchange error", NewExchangeError("submit", errors.New("timeout")), true},
		{"permanent exchange error", NewPermanentExchangeError("submit", errors.New("bad request")), false},
		{"retriable ledger error", NewLedgerError("record", errors.New("send timeout")), true},
		{"permanent ledger error", NewPermanentLedgerError("record", errors.New("reverted")), false},
		{"wrapped retriable", fmt.Errorf("cycle: %w", NewExchangeError("submit", errors.New("timeout"))), true},
		{"wrapped permanent", fmt.Errorf("cycle: %w", NewPermanentLedgerError("record", errors.New("reverted"))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("must be positive")
	err := &ConfigError{Field: "trading.trade_amount", Err: baseErr}

	if err.Error() != "config error [trading.trade_amount]: must be positive" {
		t.Errorf("Error message = %q", err.Error())
	}
	if !errors.Is(err, baseErr) {
		t.Error("Expected error to wrap baseErr")
	}
}
