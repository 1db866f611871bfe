package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeguard/internal/domain"
)

func testLimits() Limits {
	return Limits{
		TradeAmount:          decimal.NewFromFloat(0.1),
		MaxTradeAmount:       decimal.NewFromFloat(1.0),
		MaxConsecutiveTrades: 3,
		RiskThreshold:        0.5,
		BuyThreshold:         0.7,
		SellThreshold:        0.3,
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	limits := testLimits()

	t.Run("buy above threshold", func(t *testing.T) {
		d := Evaluate(0.9, domain.RiskState{}, 0, limits)
		if d.Action != domain.ActionTrade {
			t.Fatalf("Action = %v, want TRADE", d.Action)
		}
		if d.Side != domain.SideBuy {
			t.Errorf("Side = %v, want BUY", d.Side)
		}
		if !d.Amount.Equal(limits.TradeAmount) {
			t.Errorf("Amount = %v, want %v", d.Amount, limits.TradeAmount)
		}
	})

	t.Run("sell below threshold", func(t *testing.T) {
		d := Evaluate(0.1, domain.RiskState{}, 0, limits)
		if d.Action != domain.ActionTrade || d.Side != domain.SideSell {
			t.Errorf("got %v/%v, want TRADE/SELL", d.Action, d.Side)
		}
	})

	t.Run("hold in the middle band", func(t *testing.T) {
		for _, score := range []float64{0.31, 0.5, 0.69} {
			d := Evaluate(score, domain.RiskState{}, 0, limits)
			if d.Action != domain.ActionHold {
				t.Errorf("score %v: Action = %v, want HOLD", score, d.Action)
			}
		}
	})

	t.Run("boundaries are inclusive", func(t *testing.T) {
		if d := Evaluate(0.7, domain.RiskState{}, 0, limits); d.Side != domain.SideBuy {
			t.Errorf("score 0.7 should be a buy, got %v", d.Side)
		}
		if d := Evaluate(0.3, domain.RiskState{}, 0, limits); d.Side != domain.SideSell {
			t.Errorf("score 0.3 should be a sell, got %v", d.Side)
		}
	})
}

func TestEvaluate_ConsecutiveLimit(t *testing.T) {
	limits := testLimits()

	// Two buys in a row: still under the limit of 3.
	state := domain.RiskState{ConsecutiveTradeCount: 2, LastSide: domain.SideBuy}
	d := Evaluate(0.9, state, 0, limits)
	if d.Action != domain.ActionTrade {
		t.Fatalf("count=2 should approve, got %v (%v)", d.Action, d.Reason)
	}

	// Third executed buy pushes the count to the limit.
	state.RecordTrade(domain.SideBuy, time.Now())
	if state.ConsecutiveTradeCount != 3 {
		t.Fatalf("ConsecutiveTradeCount = %d, want 3", state.ConsecutiveTradeCount)
	}

	d = Evaluate(0.9, state, 0, limits)
	if d.Action != domain.ActionReject || d.Reason != domain.RejectConsecutiveLimitExceeded {
		t.Errorf("got %v/%v, want REJECT/ConsecutiveLimitExceeded", d.Action, d.Reason)
	}

	// Opposite side is not limited.
	d = Evaluate(0.1, state, 0, limits)
	if d.Action != domain.ActionTrade || d.Side != domain.SideSell {
		t.Errorf("sell after buy streak should pass, got %v (%v)", d.Action, d.Reason)
	}
}

func TestEvaluate_AmountLimit(t *testing.T) {
	limits := testLimits()
	limits.TradeAmount = decimal.NewFromFloat(2.0) // above MaxTradeAmount of 1.0

	d := Evaluate(0.9, domain.RiskState{}, 0, limits)
	if d.Action != domain.ActionReject || d.Reason != domain.RejectAmountExceedsLimit {
		t.Errorf("got %v/%v, want REJECT/AmountExceedsLimit", d.Action, d.Reason)
	}
}

func TestEvaluate_RiskThreshold(t *testing.T) {
	limits := testLimits()

	d := Evaluate(0.9, domain.RiskState{}, 0.6, limits)
	if d.Action != domain.ActionReject || d.Reason != domain.RejectRiskThresholdBreached {
		t.Errorf("got %v/%v, want REJECT/RiskThresholdBreached", d.Action, d.Reason)
	}

	d = Evaluate(0.9, domain.RiskState{}, 0.5, limits)
	if d.Action != domain.ActionTrade {
		t.Errorf("metric at threshold should pass, got %v", d.Action)
	}
}

func TestRiskState_ResetOnFlip(t *testing.T) {
	now := time.Now()
	state := domain.RiskState{}

	state.RecordTrade(domain.SideBuy, now)
	state.RecordTrade(domain.SideBuy, now)
	if state.ConsecutiveTradeCount != 2 {
		t.Fatalf("count = %d, want 2", state.ConsecutiveTradeCount)
	}

	state.RecordTrade(domain.SideSell, now)
	if state.ConsecutiveTradeCount != 1 {
		t.Errorf("count after flip = %d, want 1", state.ConsecutiveTradeCount)
	}
	if state.LastSide != domain.SideSell {
		t.Errorf("LastSide = %v, want SELL", state.LastSide)
	}
}

func TestExposureMetric(t *testing.T) {
	amount := decimal.NewFromFloat(0.5)
	maxAmount := decimal.NewFromFloat(1.0)

	if m := ExposureMetric(amount, maxAmount, 0.2); m < 0.099 || m > 0.101 {
		t.Errorf("metric = %v, want 0.1", m)
	}
	if m := ExposureMetric(amount, decimal.Zero, 0.2); m != 0 {
		t.Errorf("zero max amount should yield 0, got %v", m)
	}
	if m := ExposureMetric(amount, maxAmount, 0); m != 0 {
		t.Errorf("flat market should yield 0, got %v", m)
	}
}
