// Package risk contains the pure decision gate between sentiment and the
// execution pipeline. It never touches external systems.
package risk

import (
	"github.com/shopspring/decimal"

	"tradeguard/internal/domain"
)

// Limits are the risk parameters the gate evaluates against. They come
// from the immutable process config.
type Limits struct {
	TradeAmount          decimal.Decimal
	MaxTradeAmount       decimal.Decimal
	MaxConsecutiveTrades int
	RiskThreshold        float64
	BuyThreshold         float64
	SellThreshold        float64
}

// Evaluate maps a sentiment score to a trade decision. score is in [0,1];
// metric is the volatility-adjusted exposure computed by the caller.
//
// Scores at or above BuyThreshold are buy candidates, at or below
// SellThreshold sell candidates; anything in between is Hold. Candidates
// then pass the consecutive-trade limit, the amount limit, and the risk
// metric before being approved.
func Evaluate(score float64, state domain.RiskState, metric float64, limits Limits) domain.Decision {
	var side domain.Side
	switch {
	case score >= limits.BuyThreshold:
		side = domain.SideBuy
	case score <= limits.SellThreshold:
		side = domain.SideSell
	default:
		return domain.Decision{Action: domain.ActionHold}
	}

	if state.ConsecutiveTradeCount >= limits.MaxConsecutiveTrades && state.LastSide == side {
		return domain.Decision{Action: domain.ActionReject, Reason: domain.RejectConsecutiveLimitExceeded}
	}

	if limits.TradeAmount.GreaterThan(limits.MaxTradeAmount) {
		return domain.Decision{Action: domain.ActionReject, Reason: domain.RejectAmountExceedsLimit}
	}

	if metric > limits.RiskThreshold {
		return domain.Decision{Action: domain.ActionReject, Reason: domain.RejectRiskThresholdBreached}
	}

	return domain.Decision{Action: domain.ActionTrade, Side: side, Amount: limits.TradeAmount}
}

// ExposureMetric computes the volatility-adjusted exposure used against
// RiskThreshold: the fraction of the per-trade budget in play, scaled by
// recent price volatility. A dead-flat market yields 0 regardless of size.
func ExposureMetric(amount, maxAmount decimal.Decimal, volatility float64) float64 {
	if maxAmount.IsZero() {
		return 0
	}
	fraction, _ := amount.Div(maxAmount).Float64()
	return fraction * volatility
}
