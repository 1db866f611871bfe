package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// SignalSource produces a sentiment score in [0,1] for a symbol. Failure
// is non-fatal; the coordinator holds for the cycle.
type SignalSource interface {
	Score(ctx context.Context, symbol string) (float64, error)
}

// OrderFillStatus is the exchange-side view of an order queried by
// idempotency key.
type OrderFillStatus string

const (
	OrderFilled   OrderFillStatus = "FILLED"
	OrderRejected OrderFillStatus = "REJECTED"
	OrderUnknown  OrderFillStatus = "UNKNOWN"
)

// OrderAck is the exchange's confirmation of a submitted order.
type OrderAck struct {
	OrderRef string
	AvgPrice decimal.Decimal
}

// OrderProbe is the result of a status query by idempotency key.
type OrderProbe struct {
	Status   OrderFillStatus
	OrderRef string
	AvgPrice decimal.Decimal
}

// OrderExecutor places orders on the exchange. Submit is idempotent per
// idempotency key: resubmitting the same key must not double-execute.
type OrderExecutor interface {
	Submit(ctx context.Context, idempotencyKey, symbol string, side Side, amount decimal.Decimal) (OrderAck, error)
	Status(ctx context.Context, idempotencyKey, symbol string) (OrderProbe, error)
}

// LedgerProof is evidence of an existing ledger record for an intent.
type LedgerProof struct {
	LedgerRef string
	Memo      string
}

// LedgerRecorder writes and reads audit records on the external ledger.
// Record is idempotent per idempotency key; Verify returns (nil, nil) when
// no record exists yet.
type LedgerRecorder interface {
	Record(ctx context.Context, idempotencyKey string, details TradeDetails) (string, error)
	Verify(ctx context.Context, idempotencyKey string) (*LedgerProof, error)
}

// PriceSource exposes the live market view backing the risk metric.
type PriceSource interface {
	Last(symbol string) (decimal.Decimal, bool)
	Volatility(symbol string) float64
}

// IntentUpdate carries the optional fields of a journal state transition.
// A ref is applied only if the stored value is empty.
type IntentUpdate struct {
	OrderRef      string
	LedgerRef     string
	FailureReason string
}

// Journal is the durable, append-only record of trade intents. Every state
// transition is persisted before the corresponding external result is
// considered final.
type Journal interface {
	Append(ctx context.Context, intent *TradeIntent) error
	Update(ctx context.Context, id string, state State, fields IntentUpdate) error
	Get(ctx context.Context, id string) (*TradeIntent, error)
	ListNonTerminal(ctx context.Context) ([]TradeIntent, error)
	IncrementReconcilePasses(ctx context.Context, id string) (int, error)
}

// Notifier surfaces intents that automation gave up on.
type Notifier interface {
	ReconciliationExhausted(ctx context.Context, intent TradeIntent) error
}
