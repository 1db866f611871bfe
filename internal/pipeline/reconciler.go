package pipeline

import (
	"context"
	"log/slog"
	"time"

	"tradeguard/internal/domain"
	"tradeguard/internal/infra"
	"tradeguard/internal/metrics"
)

// Reconciler sweeps non-terminal intents from the journal and drives each
// one to a terminal state using external evidence: the exchange's order
// status and the ledger's records. It runs once at startup, before any
// coordinator cycles, and then periodically.
type Reconciler struct {
	cfg      *infra.Config
	journal  domain.Journal
	executor domain.OrderExecutor
	ledger   domain.LedgerRecorder
	prices   domain.PriceSource
	notifier domain.Notifier
	coords   map[string]*Coordinator
	logger   *slog.Logger
}

// NewReconciler creates a reconciler over the given coordinators, keyed by
// symbol. Intents for symbols without a coordinator are still resolved;
// only the risk-state update is skipped for them.
func NewReconciler(cfg *infra.Config, journal domain.Journal, executor domain.OrderExecutor,
	ledger domain.LedgerRecorder, prices domain.PriceSource, notifier domain.Notifier,
	coords map[string]*Coordinator) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		journal:  journal,
		executor: executor,
		ledger:   ledger,
		prices:   prices,
		notifier: notifier,
		coords:   coords,
		logger:   slog.Default().With("module", "reconciler"),
	}
}

// Run repeats passes on the configured interval until ctx is cancelled.
// Callers run the startup pass themselves so they can order it before the
// first decision cycle.
func (r *Reconciler) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.Reconcile.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopping...")
			return
		case <-ticker.C:
			r.Pass(ctx)
		}
	}
}

// Pass resolves every non-terminal intent currently in the journal.
func (r *Reconciler) Pass(ctx context.Context) {
	intents, err := r.journal.ListNonTerminal(ctx)
	if err != nil {
		r.logger.Error("Failed to list non-terminal intents", slog.Any("error", err))
		return
	}
	metrics.NonTerminalIntents.Set(float64(len(intents)))
	if len(intents) == 0 {
		return
	}

	r.logger.Info("Reconciliation pass", slog.Int("intents", len(intents)))
	for i := range intents {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.resolve(ctx, &intents[i])
	}
	metrics.ReconcilePassesTotal.Inc()
}

// resolve drives a single intent. It takes the symbol's coordinator lock so
// reconciliation never interleaves with a live decision cycle, then
// re-reads the intent in case the coordinator advanced it meanwhile.
func (r *Reconciler) resolve(ctx context.Context, stale *domain.TradeIntent) {
	coord := r.coords[stale.Symbol]
	if coord != nil {
		coord.mu.Lock()
		defer coord.mu.Unlock()
	}

	intent, err := r.journal.Get(ctx, stale.ID)
	if err != nil {
		r.logger.Error("Failed to load intent", slog.String("intent_id", stale.ID), slog.Any("error", err))
		return
	}
	if intent.State.IsTerminal() {
		return
	}

	logger := r.logger.With(slog.String("intent_id", intent.ID), slog.String("state", string(intent.State)))
	logger.Info("Resolving intent")

	switch intent.State {
	case domain.StatePending:
		// Crashed before any submit attempt: nothing external happened,
		// and the idempotency key makes re-driving safe regardless.
		r.redrive(ctx, intent, coord, logger)
	case domain.StateExecuting:
		r.resolveExecuting(ctx, intent, coord, logger)
	case domain.StateExecuted:
		r.driveRecording(ctx, intent, logger)
	case domain.StateRecording:
		r.resolveRecording(ctx, intent, logger)
	case domain.StateReconciliationRequired:
		r.resolveStuck(ctx, intent, coord, logger)
	}
}

// redrive runs the full execute-and-record flow for an intent that never
// reached the exchange.
func (r *Reconciler) redrive(ctx context.Context, intent *domain.TradeIntent, coord *Coordinator, logger *slog.Logger) {
	if err := r.journal.Update(ctx, intent.ID, domain.StateExecuting, domain.IntentUpdate{}); err != nil {
		logger.Error("Failed to persist EXECUTING", slog.Any("error", err))
		return
	}
	intent.State = domain.StateExecuting

	ack, err := submitWithRetry(ctx, r.cfg, r.executor, intent, logger)
	if err != nil {
		if domain.IsRetriable(err) || isContextErr(err) {
			r.markState(ctx, intent, domain.StateReconciliationRequired, "submit ambiguous: "+err.Error(), logger)
		} else {
			r.markState(ctx, intent, domain.StateFailed, "submit rejected: "+err.Error(), logger)
		}
		return
	}

	if err := r.journal.Update(ctx, intent.ID, domain.StateExecuted, domain.IntentUpdate{OrderRef: ack.OrderRef}); err != nil {
		logger.Error("Failed to persist EXECUTED", slog.Any("error", err))
		return
	}
	intent.State = domain.StateExecuted
	intent.OrderRef = ack.OrderRef
	r.noteExecuted(coord, intent.Side)

	r.driveRecording(ctx, intent, logger)
}

// resolveExecuting asks the exchange what actually happened to the order.
func (r *Reconciler) resolveExecuting(ctx context.Context, intent *domain.TradeIntent, coord *Coordinator, logger *slog.Logger) {
	probe, err := r.executor.Status(ctx, intent.ID, intent.Symbol)
	if err != nil {
		logger.Warn("Order status probe failed, leaving for next pass", slog.Any("error", err))
		return
	}

	switch probe.Status {
	case domain.OrderFilled:
		if err := r.journal.Update(ctx, intent.ID, domain.StateExecuted, domain.IntentUpdate{OrderRef: probe.OrderRef}); err != nil {
			logger.Error("Failed to persist EXECUTED", slog.Any("error", err))
			return
		}
		intent.State = domain.StateExecuted
		intent.OrderRef = probe.OrderRef
		r.noteExecuted(coord, intent.Side)
		logger.Info("Order found filled on exchange", slog.String("order_ref", probe.OrderRef))
		r.driveRecording(ctx, intent, logger)
	case domain.OrderRejected:
		r.markState(ctx, intent, domain.StateFailed, "order rejected by exchange", logger)
	default:
		// Not visible yet. Within the lookback window that can be
		// propagation lag; beyond it, the order never reached the book.
		if r.beyondLookback(intent) {
			r.markState(ctx, intent, domain.StateFailed, "order not found within lookback window", logger)
		} else {
			logger.Info("Order not yet visible, leaving for next pass")
		}
	}
}

// driveRecording completes the ledger leg for an executed intent:
// verify-first, then record, both keyed by the intent id.
func (r *Reconciler) driveRecording(ctx context.Context, intent *domain.TradeIntent, logger *slog.Logger) {
	if intent.State != domain.StateRecording {
		if err := r.journal.Update(ctx, intent.ID, domain.StateRecording, domain.IntentUpdate{}); err != nil {
			logger.Error("Failed to persist RECORDING", slog.Any("error", err))
			return
		}
		intent.State = domain.StateRecording
	}

	proof, err := r.ledger.Verify(ctx, intent.ID)
	if err != nil {
		logger.Warn("Ledger verify failed, leaving for next pass", slog.Any("error", err))
		return
	}
	if proof != nil {
		r.confirm(ctx, intent, proof.LedgerRef, logger)
		return
	}

	details := r.tradeDetails(ctx, intent)
	ledgerRef, err := recordWithVerify(ctx, r.cfg, r.ledger, intent, details, logger)
	if err != nil {
		r.markState(ctx, intent, domain.StateReconciliationRequired, "record: "+err.Error(), logger)
		return
	}
	r.confirm(ctx, intent, ledgerRef, logger)
}

// resolveRecording checks whether the interrupted recording actually
// landed before attempting it again.
func (r *Reconciler) resolveRecording(ctx context.Context, intent *domain.TradeIntent, logger *slog.Logger) {
	r.driveRecording(ctx, intent, logger)
}

// resolveStuck handles RECONCILIATION_REQUIRED intents: count the pass,
// escalate at the limit, otherwise re-drive from wherever evidence says
// the intent stalled.
func (r *Reconciler) resolveStuck(ctx context.Context, intent *domain.TradeIntent, coord *Coordinator, logger *slog.Logger) {
	passes, err := r.journal.IncrementReconcilePasses(ctx, intent.ID)
	if err != nil {
		logger.Error("Failed to count reconcile pass", slog.Any("error", err))
		return
	}

	if passes >= r.cfg.Reconcile.MaxPasses {
		if passes == r.cfg.Reconcile.MaxPasses {
			// Escalate exactly once; the intent stays non-terminal for
			// manual intervention.
			metrics.ReconcileExhaustedTotal.Inc()
			logger.Error("Reconciliation exhausted, notifying operator", slog.Int("passes", passes))
			if err := r.notifier.ReconciliationExhausted(ctx, *intent); err != nil {
				logger.Error("Operator notification failed", slog.Any("error", err))
			}
		}
		return
	}

	if intent.OrderRef == "" {
		// Stalled during submit: only the exchange knows if it executed.
		r.resolveStuckSubmit(ctx, intent, coord, logger)
	} else {
		// Order executed; only the ledger leg is missing.
		r.driveRecording(ctx, intent, logger)
	}
}

func (r *Reconciler) resolveStuckSubmit(ctx context.Context, intent *domain.TradeIntent, coord *Coordinator, logger *slog.Logger) {
	probe, err := r.executor.Status(ctx, intent.ID, intent.Symbol)
	if err != nil {
		logger.Warn("Order status probe failed, leaving for next pass", slog.Any("error", err))
		return
	}

	switch probe.Status {
	case domain.OrderFilled:
		if err := r.journal.Update(ctx, intent.ID, domain.StateExecuted, domain.IntentUpdate{OrderRef: probe.OrderRef}); err != nil {
			logger.Error("Failed to persist EXECUTED", slog.Any("error", err))
			return
		}
		intent.State = domain.StateExecuted
		intent.OrderRef = probe.OrderRef
		r.noteExecuted(coord, intent.Side)
		r.driveRecording(ctx, intent, logger)
	case domain.OrderRejected:
		r.markState(ctx, intent, domain.StateFailed, "order rejected by exchange", logger)
	default:
		if r.beyondLookback(intent) {
			r.markState(ctx, intent, domain.StateFailed, "order not found within lookback window", logger)
		} else {
			logger.Info("Order not yet visible, leaving for next pass")
		}
	}
}

func (r *Reconciler) confirm(ctx context.Context, intent *domain.TradeIntent, ledgerRef string, logger *slog.Logger) {
	if err := r.journal.Update(ctx, intent.ID, domain.StateConfirmed, domain.IntentUpdate{LedgerRef: ledgerRef}); err != nil {
		logger.Error("Failed to persist CONFIRMED", slog.Any("error", err))
		return
	}
	metrics.IntentsTotal.WithLabelValues(intent.Symbol, string(domain.StateConfirmed)).Inc()
	logger.Info("Intent reconciled to CONFIRMED", slog.String("ledger_ref", ledgerRef))
}

func (r *Reconciler) markState(ctx context.Context, intent *domain.TradeIntent, state domain.State, reason string, logger *slog.Logger) {
	if err := r.journal.Update(ctx, intent.ID, state, domain.IntentUpdate{FailureReason: reason}); err != nil {
		logger.Error("Failed to persist state", slog.String("target", string(state)), slog.Any("error", err))
		return
	}
	intent.State = state
	metrics.IntentsTotal.WithLabelValues(intent.Symbol, string(state)).Inc()
	logger.Warn("Intent reconciled", slog.String("target", string(state)), slog.String("reason", reason))
}

// noteExecuted updates the symbol's risk state for a trade the reconciler
// confirmed executed. The resolve caller already holds the coordinator
// lock.
func (r *Reconciler) noteExecuted(coord *Coordinator, side domain.Side) {
	if coord == nil {
		return
	}
	coord.risk.RecordTrade(side, time.Now())
}

func (r *Reconciler) beyondLookback(intent *domain.TradeIntent) bool {
	lookback := time.Duration(r.cfg.Reconcile.LookbackMin) * time.Minute
	return time.Since(intent.CreatedAt) > lookback
}

func (r *Reconciler) tradeDetails(ctx context.Context, intent *domain.TradeIntent) domain.TradeDetails {
	details := domain.TradeDetails{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Amount:    intent.Amount,
		OrderRef:  intent.OrderRef,
		Timestamp: time.Now().Unix(),
	}
	probe, err := r.executor.Status(ctx, intent.ID, intent.Symbol)
	if err == nil {
		details.Price = tradePrice(probe, r.prices, intent.Symbol)
	} else if price, ok := r.prices.Last(intent.Symbol); ok {
		details.Price = price
	}
	return details
}
