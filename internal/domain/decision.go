package domain

import "github.com/shopspring/decimal"

// Action is the outcome class of a risk gate evaluation.
type Action int

const (
	ActionHold Action = iota
	ActionTrade
	ActionReject
)

// String returns the string representation of Action.
func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionTrade:
		return "TRADE"
	case ActionReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// RejectReason explains why the risk gate refused a candidate trade.
// Rejection is expected control flow, not an error.
type RejectReason string

const (
	RejectConsecutiveLimitExceeded RejectReason = "ConsecutiveLimitExceeded"
	RejectAmountExceedsLimit       RejectReason = "AmountExceedsLimit"
	RejectRiskThresholdBreached    RejectReason = "RiskThresholdBreached"
)

// Decision is the result of running the risk gate over a sentiment score.
// Side and Amount are set only when Action is ActionTrade; Reason only when
// Action is ActionReject.
type Decision struct {
	Action Action
	Side   Side
	Amount decimal.Decimal
	Reason RejectReason
}
