package solana

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeguard/internal/domain"
)

func testDetails() domain.TradeDetails {
	return domain.TradeDetails{
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Amount:    decimal.NewFromFloat(0.1),
		Price:     decimal.NewFromFloat(50000),
		OrderRef:  "ord-1",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}
}

func TestBuildMemo(t *testing.T) {
	memoText, err := BuildMemo("intent-1", testDetails())
	if err != nil {
		t.Fatalf("BuildMemo failed: %v", err)
	}
	if !strings.HasPrefix(memoText, "tradeguard:v1:intent-1:") {
		t.Errorf("memo = %q, missing namespaced prefix", memoText)
	}
	for _, field := range []string{`"symbol":"BTCUSDT"`, `"side":"BUY"`, `"order_ref":"ord-1"`} {
		if !strings.Contains(memoText, field) {
			t.Errorf("memo missing %s: %q", field, memoText)
		}
	}
}

func TestBuildMemoDeterministic(t *testing.T) {
	a, _ := BuildMemo("intent-1", testDetails())
	b, _ := BuildMemo("intent-1", testDetails())
	if a != b {
		t.Error("memo must be byte-identical across retries")
	}
}

func TestMatchesMemo(t *testing.T) {
	memoText, _ := BuildMemo("intent-1", testDetails())

	// RPC nodes prepend a length tag to returned memos.
	tagged := "[84] " + memoText

	if !MatchesMemo(tagged, "intent-1") {
		t.Error("tagged memo should match its intent")
	}
	if MatchesMemo(tagged, "intent-2") {
		t.Error("memo must not match a different intent")
	}
	if MatchesMemo("unrelated text", "intent-1") {
		t.Error("unrelated memo must not match")
	}
}

func TestLedgerImplementsInterface(t *testing.T) {
	var _ domain.LedgerRecorder = (*Ledger)(nil)
}

func TestNewLedgerRejectsBadWalletKey(t *testing.T) {
	_, err := NewLedger("http://localhost:8899", "confirmed", "not-base58!!", 0)
	if err == nil {
		t.Fatal("expected an error for a malformed wallet key")
	}
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("got %T, want *domain.ConfigError", err)
	}
}
