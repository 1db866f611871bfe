package app

import (
	"context"
	"log/slog"

	"tradeguard/internal/domain"
	"tradeguard/internal/infra"
	"tradeguard/internal/infra/bybit"
	"tradeguard/internal/infra/solana"
	"tradeguard/internal/journal"
	"tradeguard/internal/pipeline"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config       *infra.Config
	Journal      *journal.Store
	Exchange     *bybit.Client
	TickerWorker *bybit.TickerWorker
	Prices       *bybit.PriceFeed
	Ledger       *solana.Ledger
	Signals      domain.SignalSource
	Notifier     domain.Notifier
	Coordinators map[string]*pipeline.Coordinator
	Reconciler   *pipeline.Reconciler
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logging, the
// journal, and both external adapters. Nothing trades yet.
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping TradeGuard...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize the trade journal (DB)
	store, err := journal.NewStore(cfg.Journal.Path)
	if err != nil {
		return err
	}
	b.Journal = store
	slog.Info("✅ Trade journal initialized", slog.String("path", cfg.Journal.Path))

	// 4. Exchange adapter: REST client plus the ticker stream
	b.Exchange = bybit.NewClient(cfg)
	b.TickerWorker = bybit.NewTickerWorker(cfg)
	b.Prices = bybit.NewPriceFeed(b.TickerWorker, b.Exchange)

	// 5. Ledger adapter
	ledger, err := solana.NewLedger(cfg.Solana.RPCURL, cfg.Solana.Commitment, cfg.Solana.WalletKey, cfg.Solana.Lookback)
	if err != nil {
		return err
	}
	b.Ledger = ledger
	slog.Info("✅ Ledger wallet loaded", slog.String("rpc", cfg.Solana.RPCURL))

	// 6. Signal source and operator channel
	b.Signals = infra.NewSentimentClient(cfg.Sentiment.BaseURL, cfg.Sentiment.TimeoutSec)
	b.Notifier = infra.NewWebhookNotifier(cfg.Operator.WebhookURL)

	// 7. Pipeline: one coordinator per symbol, one reconciler over all
	b.Coordinators = make(map[string]*pipeline.Coordinator, len(cfg.Trading.Symbols))
	for _, symbol := range cfg.Trading.Symbols {
		b.Coordinators[symbol] = pipeline.NewCoordinator(symbol, cfg, store, b.Signals, b.Exchange, b.Ledger, b.Prices)
	}
	b.Reconciler = pipeline.NewReconciler(cfg, store, b.Exchange, b.Ledger, b.Prices, b.Notifier, b.Coordinators)

	return nil
}

// VerifyExchangeAccess fails fast on bad credentials by querying the
// wallet before any trading starts.
func (b *Bootstrap) VerifyExchangeAccess(ctx context.Context) error {
	equity, err := b.Exchange.WalletBalance(ctx)
	if err != nil {
		return err
	}
	slog.Info("✅ Exchange account verified", slog.String("equity", equity.String()))
	return nil
}
