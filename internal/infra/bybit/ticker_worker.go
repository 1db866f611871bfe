package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tradeguard/internal/infra"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	maxRetries   = 10
)

// TickerWorker maintains a live price view per symbol over the Bybit V5
// public ticker stream. It backs the risk metric: the last price and a
// rolling volatility estimate from a fixed-size sample window.
type TickerWorker struct {
	wsURL      string
	symbols    []string
	windowSize int

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	statsMu sync.RWMutex
	windows map[string]*priceWindow
}

// priceWindow is a fixed-size ring of price samples.
type priceWindow struct {
	prices []float64
	head   int
	count  int
	last   decimal.Decimal
}

// NewTickerWorker factory
func NewTickerWorker(cfg *infra.Config) *TickerWorker {
	windows := make(map[string]*priceWindow, len(cfg.Trading.Symbols))
	for _, s := range cfg.Trading.Symbols {
		windows[s] = &priceWindow{prices: make([]float64, cfg.Bybit.WindowSize)}
	}
	return &TickerWorker{
		wsURL:      cfg.Bybit.WSURL,
		symbols:    cfg.Trading.Symbols,
		windowSize: cfg.Bybit.WindowSize,
		windows:    windows,
	}
}

func (w *TickerWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *TickerWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Bybit ticker connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // Infinite retry loop for monitoring
			}
			delay := infra.CalculateBackoff(retryCount)
			time.Sleep(delay)
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *TickerWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx)
	slog.Info("Bybit ticker stream connected", slog.Int("symbols", len(w.symbols)))
	return nil
}

func (w *TickerWorker) subscribe() error {
	args := make([]string, 0, len(w.symbols))
	for _, s := range w.symbols {
		args = append(args, "tickers."+s)
	}
	req := wsSubscribeRequest{Op: "subscribe", Args: args}
	b, err := json.Marshal(req)
	if err != nil {
		slog.Error("Failed to marshal subscribe request", slog.Any("error", err))
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *TickerWorker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.threadSafeWrite(websocket.TextMessage, []byte(`{"op":"ping"}`))
		}
	}
}

func (w *TickerWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *TickerWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *TickerWorker) handleMessage(msg []byte) {
	var resp wsTickerMessage
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}
	// Subscription acks and pongs carry no topic.
	if resp.Topic == "" || resp.Data.Symbol == "" || resp.Data.LastPrice == "" {
		return
	}

	price, err := decimal.NewFromString(resp.Data.LastPrice)
	if err != nil {
		return
	}
	w.record(resp.Data.Symbol, price)
}

func (w *TickerWorker) record(symbol string, price decimal.Decimal) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	win, ok := w.windows[symbol]
	if !ok {
		return
	}

	value, _ := price.Float64()
	win.prices[win.head] = value
	win.head = (win.head + 1) % w.windowSize
	if win.count < w.windowSize {
		win.count++
	}
	win.last = price
}

// Last returns the most recent price for a symbol, if any sample arrived.
func (w *TickerWorker) Last(symbol string) (decimal.Decimal, bool) {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	win, ok := w.windows[symbol]
	if !ok || win.count == 0 {
		return decimal.Zero, false
	}
	return win.last, true
}

// Volatility estimates recent volatility as the standard deviation of
// per-sample relative returns over the window. With fewer than two
// samples it returns 0, which makes the risk metric permissive until the
// feed warms up.
func (w *TickerWorker) Volatility(symbol string) float64 {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	win, ok := w.windows[symbol]
	if !ok || win.count < 2 {
		return 0
	}

	// Walk the ring oldest-to-newest.
	start := win.head - win.count
	if start < 0 {
		start += w.windowSize
	}

	returns := make([]float64, 0, win.count-1)
	prev := win.prices[start]
	for i := 1; i < win.count; i++ {
		idx := (start + i) % w.windowSize
		curr := win.prices[idx]
		if prev != 0 {
			returns = append(returns, (curr-prev)/prev)
		}
		prev = curr
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}

func (w *TickerWorker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *TickerWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

func (w *TickerWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
