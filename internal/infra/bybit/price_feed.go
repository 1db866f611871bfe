package bybit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeed combines the WebSocket ticker stream with a REST fallback so
// the pipeline has a usable price before the stream warms up.
type PriceFeed struct {
	worker *TickerWorker
	client *Client
}

// NewPriceFeed wires a worker and a REST client into one PriceSource.
func NewPriceFeed(worker *TickerWorker, client *Client) *PriceFeed {
	return &PriceFeed{worker: worker, client: client}
}

// Last prefers the stream; a cold stream falls back to the REST ticker.
func (f *PriceFeed) Last(symbol string) (decimal.Decimal, bool) {
	if price, ok := f.worker.Last(symbol); ok {
		return price, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	price, err := f.client.LastPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

// Volatility is only meaningful from the stream's sample window.
func (f *PriceFeed) Volatility(symbol string) float64 {
	return f.worker.Volatility(symbol)
}
