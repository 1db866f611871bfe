package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradeguard/internal/app"
	"tradeguard/internal/metrics"
	"tradeguard/internal/pipeline"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Fail fast on bad exchange credentials
	if err := bootstrap.VerifyExchangeAccess(ctx); err != nil {
		slog.Error("❌ Exchange access check failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 5. Metrics endpoint
	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	// 6. Price stream
	if err := bootstrap.TickerWorker.Connect(ctx); err != nil {
		slog.Error("Failed to connect ticker stream", slog.Any("error", err))
	}
	defer bootstrap.TickerWorker.Disconnect()
	slog.InfoContext(ctx, "✅ TickerWorker started", slog.Int("symbols", len(cfg.Trading.Symbols)))

	// 7. Startup reconciliation must finish before the first decision
	// cycle: intents left over from a crash get resolved first.
	bootstrap.Reconciler.Pass(ctx)
	slog.InfoContext(ctx, "✅ Startup reconciliation completed")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bootstrap.Reconciler.Run(ctx)
	}()

	// 8. One coordinator loop per symbol
	for symbol, coord := range bootstrap.Coordinators {
		wg.Add(1)
		go func(c *pipeline.Coordinator) {
			defer wg.Done()
			c.Run(ctx)
		}(coord)
		slog.InfoContext(ctx, "✅ Coordinator started", slog.String("symbol", symbol))
	}

	slog.InfoContext(ctx, "✨ TradeGuard fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	wg.Wait()
}
