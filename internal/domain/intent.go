package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// State is the lifecycle stage of a TradeIntent.
type State string

const (
	StatePending   State = "PENDING"
	StateExecuting State = "EXECUTING"
	StateExecuted  State = "EXECUTED"
	StateRecording State = "RECORDING"
	StateConfirmed State = "CONFIRMED"
	StateFailed    State = "FAILED"

	// StateReconciliationRequired means the effect of an external call is
	// unknown. The reconciler owns these until its pass budget runs out,
	// after which an operator has to resolve them by hand.
	StateReconciliationRequired State = "RECONCILIATION_REQUIRED"
)

// allowedTransitions encodes the forward-only state machine. The success
// path never skips a stage; failure states are reachable only from the
// stages that can actually produce them.
var allowedTransitions = map[State][]State{
	StatePending:                {StateExecuting, StateFailed},
	StateExecuting:              {StateExecuted, StateFailed, StateReconciliationRequired},
	StateExecuted:               {StateRecording, StateReconciliationRequired},
	StateRecording:              {StateConfirmed, StateReconciliationRequired},
	StateReconciliationRequired: {StateExecuted, StateRecording, StateConfirmed, StateFailed},
	StateConfirmed:              nil,
	StateFailed:                 nil,
}

// CanTransition reports whether moving from one state to another is a
// legal forward step.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether automation is done with an intent. Confirmed
// is the only success terminal; Failed is terminal; ReconciliationRequired
// is terminal for the coordinator but still visited by the reconciler.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// NonTerminalStates lists every state the reconciler scans for.
func NonTerminalStates() []State {
	return []State{StatePending, StateExecuting, StateExecuted, StateRecording, StateReconciliationRequired}
}

// TradeIntent is the unit of work of the pipeline. Its ID doubles as the
// idempotency key for both the exchange and the ledger. Rows are never
// deleted; the journal is the audit trail.
type TradeIntent struct {
	ID              string          `gorm:"primaryKey" json:"id"`
	Symbol          string          `gorm:"index" json:"symbol"`
	Side            Side            `json:"side"`
	Amount          decimal.Decimal `gorm:"type:text" json:"amount"`
	SentimentScore  float64         `json:"sentiment_score"`
	State           State           `gorm:"index" json:"state"`
	OrderRef        string          `json:"order_ref,omitempty"`
	LedgerRef       string          `json:"ledger_ref,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	ReconcilePasses int             `json:"reconcile_passes"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewTradeIntent creates a Pending intent with a fresh idempotency key.
func NewTradeIntent(symbol string, side Side, amount decimal.Decimal, score float64) *TradeIntent {
	return &TradeIntent{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		Amount:         amount,
		SentimentScore: score,
		State:          StatePending,
		CreatedAt:      time.Now(),
	}
}

// RiskState tracks per-symbol trading pressure. It is mutated only by the
// symbol's coordinator (or the reconciler acting in its place, under the
// same lock) after an intent reaches Executed.
type RiskState struct {
	ConsecutiveTradeCount int
	LastSide              Side
	LastTradeAt           time.Time
}

/// RecordTrade applies an executed trade: the counter resets to 1 when the
// side flips and increments otherwise.
func (r *RiskState) RecordTrade(side Side, at time.Time) {
	if r.LastSide != side {
		r.ConsecutiveTradeCount = 1
	} else {
		r.ConsecutiveTradeCount++
	}
	r.LastSide = side
	r.LastTradeAt = at
}

// TradeDetails is the structured payload written to the ledger. It mirrors
// what the exchange confirmed, not what was requested.
type TradeDetails struct {
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	OrderRef  string          `json:"order_ref"`
	Timestamp int64           `json:"timestamp"`
}
