// Package pipeline drives trade intents through the decision-and-settlement
// state machine: sentiment -> risk gate -> journal -> exchange -> ledger.
// One coordinator runs per symbol; the reconciler shares each coordinator's
// lock so risk state only ever has a single writer.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"tradeguard/internal/domain"
	"tradeguard/internal/infra"
	"tradeguard/internal/metrics"
	"tradeguard/internal/risk"
)

// Coordinator serializes trade intents for a single symbol. Within a
// symbol, no two intents are ever in flight at once; across symbols,
// coordinators are independent.
type Coordinator struct {
	symbol   string
	cfg      *infra.Config
	journal  domain.Journal
	signals  domain.SignalSource
	executor domain.OrderExecutor
	ledger   domain.LedgerRecorder
	prices   domain.PriceSource
	logger   *slog.Logger

	mu   sync.Mutex // serializes decision cycles against the reconciler
	risk domain.RiskState
}

// NewCoordinator creates a coordinator for one symbol.
func NewCoordinator(symbol string, cfg *infra.Config, journal domain.Journal, signals domain.SignalSource,
	executor domain.OrderExecutor, ledger domain.LedgerRecorder, prices domain.PriceSource) *Coordinator {
	return &Coordinator{
		symbol:   symbol,
		cfg:      cfg,
		journal:  journal,
		signals:  signals,
		executor: executor,
		ledger:   ledger,
		prices:   prices,
		logger:   slog.Default().With("module", "coordinator", "symbol", symbol),
	}
}

// Run executes decision cycles on the configured interval until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.Trading.CycleIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Coordinator started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator stopping...")
			return
		case <-ticker.C:
			c.RunCycle(ctx)
		}
	}
}

// RunCycle performs one decision cycle. The whole cycle is bounded by the
// configured timeout: an overrunning external call aborts into the
// retry/reconciliation path instead of blocking the next cycle.
func (c *Coordinator) RunCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.Trading.CycleTimeoutSec)*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.CyclesTotal.WithLabelValues(c.symbol).Inc()

	score, err := c.signals.Score(ctx, c.symbol)
	if err != nil {
		// Non-fatal: a missing signal is a Hold, not an error.
		c.logger.Info("Signal unavailable, holding", slog.Any("error", err))
		metrics.DecisionsTotal.WithLabelValues(c.symbol, "HOLD").Inc()
		return
	}

	volatility := c.prices.Volatility(c.symbol)
	metric := risk.ExposureMetric(c.cfg.Trading.TradeAmount, c.cfg.Trading.MaxTradeAmount, volatility)

	decision := risk.Evaluate(score, c.risk, metric, c.limits())
	metrics.DecisionsTotal.WithLabelValues(c.symbol, decision.Action.String()).Inc()

	switch decision.Action {
	case domain.ActionHold:
		c.logger.Debug("Holding", slog.Float64("score", score))
		return
	case domain.ActionReject:
		c.logger.Info("Risk gate rejected trade",
			slog.String("reason", string(decision.Reason)),
			slog.Float64("score", score),
			slog.Float64("metric", metric),
		)
		return
	}

	intent := domain.NewTradeIntent(c.symbol, decision.Side, decision.Amount, score)

	// Write-ahead: the intent must be durable before any external call.
	// A crash past this point is recovered from the journal.
	if err := c.journal.Append(ctx, intent); err != nil {
		c.logger.Error("Failed to journal intent, aborting cycle", slog.Any("error", err))
		return
	}
	metrics.IntentsTotal.WithLabelValues(c.symbol, string(domain.StatePending)).Inc()
	c.logger.Info("Intent created",
		slog.String("intent_id", intent.ID),
		slog.String("side", string(intent.Side)),
		slog.Float64("score", score),
	)

	if !c.execute(ctx, intent) {
		return
	}
	c.record(ctx, intent)
}

func (c *Coordinator) limits() risk.Limits {
	return risk.Limits{
		TradeAmount:          c.cfg.Trading.TradeAmount,
		MaxTradeAmount:       c.cfg.Trading.MaxTradeAmount,
		MaxConsecutiveTrades: c.cfg.Risk.MaxConsecutiveTrades,
		RiskThreshold:        c.cfg.Risk.RiskThreshold,
		BuyThreshold:         c.cfg.Risk.BuyThreshold,
		SellThreshold:        c.cfg.Risk.SellThreshold,
	}
}

// execute drives Pending -> Executing -> Executed. Returns true when the
// order is confirmed executed and risk state has been updated.
func (c *Coordinator) execute(ctx context.Context, intent *domain.TradeIntent) bool {
	if err := c.journal.Update(ctx, intent.ID, domain.StateExecuting, domain.IntentUpdate{}); err != nil {
		c.logger.Error("Failed to persist EXECUTING", slog.Any("error", err))
		return false
	}
	intent.State = domain.StateExecuting

	ack, err := submitWithRetry(ctx, c.cfg, c.executor, intent, c.logger)
	if err != nil {
		if domain.IsRetriable(err) || isContextErr(err) {
			// Retries exhausted or the cycle timed out: the exchange may
			// have accepted the order despite the failed response.
			c.terminate(ctx, intent, domain.StateReconciliationRequired, "submit ambiguous: "+err.Error())
		} else {
			c.terminate(ctx, intent, domain.StateFailed, "submit rejected: "+err.Error())
		}
		return false
	}

	if err := c.journal.Update(ctx, intent.ID, domain.StateExecuted, domain.IntentUpdate{OrderRef: ack.OrderRef}); err != nil {
		c.logger.Error("Failed to persist EXECUTED", slog.Any("error", err))
		return false
	}
	intent.State = domain.StateExecuted
	intent.OrderRef = ack.OrderRef

	c.risk.RecordTrade(intent.Side, time.Now())
	metrics.IntentsTotal.WithLabelValues(c.symbol, string(domain.StateExecuted)).Inc()
	c.logger.Info("Order executed",
		slog.String("intent_id", intent.ID),
		slog.String("order_ref", ack.OrderRef),
		slog.Int("consecutive", c.risk.ConsecutiveTradeCount),
	)
	return true
}

// record drives Executed -> Recording -> Confirmed.
func (c *Coordinator) record(ctx context.Context, intent *domain.TradeIntent) {
	if err := c.journal.Update(ctx, intent.ID, domain.StateRecording, domain.IntentUpdate{}); err != nil {
		c.logger.Error("Failed to persist RECORDING", slog.Any("error", err))
		return
	}
	intent.State = domain.StateRecording

	details := c.tradeDetails(intent)
	ledgerRef, err := recordWithVerify(ctx, c.cfg, c.ledger, intent, details, c.logger)
	if err != nil {
		// The order is executed; a lost audit record is never plain Failed.
		c.terminate(ctx, intent, domain.StateReconciliationRequired, "record: "+err.Error())
		return
	}

	if err := c.journal.Update(ctx, intent.ID, domain.StateConfirmed, domain.IntentUpdate{LedgerRef: ledgerRef}); err != nil {
		c.logger.Error("Failed to persist CONFIRMED", slog.Any("error", err))
		return
	}
	intent.State = domain.StateConfirmed
	intent.LedgerRef = ledgerRef

	metrics.IntentsTotal.WithLabelValues(c.symbol, string(domain.StateConfirmed)).Inc()
	c.logger.Info("Intent confirmed",
		slog.String("intent_id", intent.ID),
		slog.String("order_ref", intent.OrderRef),
		slog.String("ledger_ref", ledgerRef),
	)
}

func (c *Coordinator) tradeDetails(intent *domain.TradeIntent) domain.TradeDetails {
	price, _ := c.prices.Last(intent.Symbol)
	return domain.TradeDetails{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Amount:    intent.Amount,
		Price:     price,
		OrderRef:  intent.OrderRef,
		Timestamp: time.Now().Unix(),
	}
}

// terminate persists a terminal state. The cycle deadline must not block
// this write, so it runs detached from the cycle's cancellation.
func (c *Coordinator) terminate(ctx context.Context, intent *domain.TradeIntent, state domain.State, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.journal.Update(writeCtx, intent.ID, state, domain.IntentUpdate{FailureReason: reason}); err != nil {
		// The intent stays non-terminal in the journal; the reconciler
		// will pick it up.
		c.logger.Error("Failed to persist terminal state",
			slog.String("intent_id", intent.ID),
			slog.String("state", string(state)),
			slog.Any("error", err),
		)
		return
	}
	intent.State = state
	intent.FailureReason = reason

	metrics.IntentsTotal.WithLabelValues(c.symbol, string(state)).Inc()
	c.logger.Error("Intent terminated",
		slog.String("intent_id", intent.ID),
		slog.String("state", string(state)),
		slog.String("reason", reason),
	)
}

// RiskState returns a copy of the symbol's risk state.
func (c *Coordinator) RiskState() domain.RiskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.risk
}

// newBackOff builds the retry policy: exponential from the configured base
// delay, capped, with a bounded attempt count, aborting when ctx ends.
func newBackOff(ctx context.Context, cfg *infra.Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond
	b.MaxInterval = time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.Retry.MaxAttempts-1)), ctx)
}

// submitWithRetry submits an order with backoff. The intent id is the
// idempotency key, so a retried submit cannot double-execute.
func submitWithRetry(ctx context.Context, cfg *infra.Config, executor domain.OrderExecutor,
	intent *domain.TradeIntent, logger *slog.Logger) (domain.OrderAck, error) {
	attempt := 0
	op := func() (domain.OrderAck, error) {
		attempt++
		if attempt > 1 {
			metrics.RetriesTotal.WithLabelValues("submit").Inc()
		}
		ack, err := executor.Submit(ctx, intent.ID, intent.Symbol, intent.Side, intent.Amount)
		if err != nil {
			if !domain.IsRetriable(err) {
				return ack, backoff.Permanent(err)
			}
			logger.Warn("Submit failed, will retry",
				slog.String("intent_id", intent.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		}
		return ack, err
	}
	return backoff.RetryWithData(op, newBackOff(ctx, cfg))
}

// recordWithVerify writes the ledger record with backoff. After any failed
// attempt the record may exist despite the error, so every retry verifies
// before writing again: at most one record ever lands per intent.
func recordWithVerify(ctx context.Context, cfg *infra.Config, ledger domain.LedgerRecorder,
	intent *domain.TradeIntent, details domain.TradeDetails, logger *slog.Logger) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		if attempt > 1 {
			metrics.RetriesTotal.WithLabelValues("record").Inc()
			proof, err := ledger.Verify(ctx, intent.ID)
			if err == nil && proof != nil {
				logger.Info("Adopted existing ledger record",
					slog.String("intent_id", intent.ID),
					slog.String("ledger_ref", proof.LedgerRef),
				)
				return proof.LedgerRef, nil
			}
		}
		ref, err := ledger.Record(ctx, intent.ID, details)
		if err != nil {
			if !domain.IsRetriable(err) {
				return "", backoff.Permanent(err)
			}
			logger.Warn("Ledger record failed, will verify and retry",
				slog.String("intent_id", intent.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		}
		return ref, err
	}
	return backoff.RetryWithData(op, newBackOff(ctx, cfg))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// tradePrice prefers the exchange's fill price, falling back to the feed.
func tradePrice(probe domain.OrderProbe, prices domain.PriceSource, symbol string) decimal.Decimal {
	if !probe.AvgPrice.IsZero() {
		return probe.AvgPrice
	}
	price, _ := prices.Last(symbol)
	return price
}
