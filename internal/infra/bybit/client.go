package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"tradeguard/internal/domain"
	"tradeguard/internal/infra"
)

// Bybit V5 return codes the client cares about.
const (
	retCodeOK             = 0
	retCodeServerTimeout  = 10000
	retCodeRateLimited    = 10006
	retCodeServerError    = 10016
	retCodeDuplicateOrder = 110072 // orderLinkId already used
)

// transientRetCodes are business errors worth retrying.
var transientRetCodes = map[int]bool{
	retCodeServerTimeout: true,
	retCodeRateLimited:   true,
	retCodeServerError:   true,
}

// Client is the Bybit V5 REST API client. Order submission is idempotent
// per orderLinkId: the exchange rejects a duplicate id, and the client
// resolves the duplicate by adopting the existing order.
type Client struct {
	baseURL    string
	category   string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewClient creates a new Bybit API client.
func NewClient(cfg *infra.Config) *Client {
	signer := NewSigner(cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.RecvWindowMS)

	return &Client{
		baseURL:  cfg.Bybit.RestURL,
		category: cfg.Bybit.Category,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: signer,
		logger: slog.Default().With("module", "bybit_client"),
	}
}

// Submit places a market order keyed by the intent id. Submitting the same
// key twice never produces a second order: a duplicate response is
// resolved through a status query against the same key.
func (c *Client) Submit(ctx context.Context, idempotencyKey, symbol string, side domain.Side, amount decimal.Decimal) (domain.OrderAck, error) {
	reqBody := createOrderRequest{
		Category:    c.category,
		Symbol:      symbol,
		Side:        sideToAPI(side),
		OrderType:   "Market",
		Qty:         amount.String(),
		TimeInForce: "IOC",
		OrderLinkID: idempotencyKey,
	}

	var result createOrderResult
	retCode, err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, reqBody, &result)
	if err != nil {
		return domain.OrderAck{}, err
	}

	switch {
	case retCode == retCodeOK:
		c.logger.Info("Order submitted", "key", idempotencyKey, "symbol", symbol, "order_id", result.OrderID)
		return domain.OrderAck{OrderRef: result.OrderID}, nil

	case retCode == retCodeDuplicateOrder:
		// The key has been used before: the order exists. Adopt it.
		probe, err := c.Status(ctx, idempotencyKey, symbol)
		if err != nil {
			return domain.OrderAck{}, err
		}
		if probe.Status == domain.OrderRejected {
			return domain.OrderAck{}, domain.NewPermanentExchangeError("submit",
				fmt.Errorf("order %s rejected by exchange", idempotencyKey))
		}
		if probe.OrderRef == "" {
			return domain.OrderAck{}, domain.NewExchangeError("submit",
				fmt.Errorf("duplicate orderLinkId %s but order not visible yet", idempotencyKey))
		}
		c.logger.Info("Adopted existing order for duplicate key", "key", idempotencyKey, "order_id", probe.OrderRef)
		return domain.OrderAck{OrderRef: probe.OrderRef, AvgPrice: probe.AvgPrice}, nil

	case transientRetCodes[retCode]:
		return domain.OrderAck{}, domain.NewExchangeError("submit",
			fmt.Errorf("bybit business error: code=%d", retCode))

	default:
		return domain.OrderAck{}, domain.NewPermanentExchangeError("submit",
			fmt.Errorf("bybit business error: code=%d", retCode))
	}
}

// Status queries the exchange-side state of an order by idempotency key.
// Orders age out of the realtime endpoint, so the history endpoint is
// checked as well before reporting Unknown.
func (c *Client) Status(ctx context.Context, idempotencyKey, symbol string) (domain.OrderProbe, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", symbol)
	query.Set("orderLinkId", idempotencyKey)

	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		var result orderListResult
		retCode, err := c.doRequest(ctx, http.MethodGet, path, query, nil, &result)
		if err != nil {
			return domain.OrderProbe{}, err
		}
		if retCode != retCodeOK {
			if transientRetCodes[retCode] {
				return domain.OrderProbe{}, domain.NewExchangeError("status",
					fmt.Errorf("bybit business error: code=%d", retCode))
			}
			return domain.OrderProbe{}, domain.NewPermanentExchangeError("status",
				fmt.Errorf("bybit business error: code=%d", retCode))
		}
		if len(result.List) == 0 {
			continue
		}
		return probeFromEntry(result.List[0]), nil
	}

	return domain.OrderProbe{Status: domain.OrderUnknown}, nil
}

func probeFromEntry(entry orderEntry) domain.OrderProbe {
	probe := domain.OrderProbe{OrderRef: entry.OrderID}
	if entry.AvgPrice != "" {
		if price, err := decimal.NewFromString(entry.AvgPrice); err == nil {
			probe.AvgPrice = price
		}
	}

	switch entry.OrderStatus {
	case "Filled":
		probe.Status = domain.OrderFilled
	case "Rejected", "Cancelled", "Deactivated":
		probe.Status = domain.OrderRejected
	default:
		// New, PartiallyFilled, Created: not final yet.
		probe.Status = domain.OrderUnknown
	}
	return probe
}

// LastPrice fetches the current market price over REST. Used as a fallback
// when the WebSocket feed has no sample yet.
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("category", c.category)
	query.Set("symbol", symbol)

	var result tickerListResult
	retCode, err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", query, nil, &result)
	if err != nil {
		return decimal.Zero, err
	}
	if retCode != retCodeOK || len(result.List) == 0 {
		return decimal.Zero, domain.NewExchangeError("ticker",
			fmt.Errorf("no ticker for %s (code=%d)", symbol, retCode))
	}
	return decimal.NewFromString(result.List[0].LastPrice)
}

// WalletBalance returns the unified account equity. Checked once at
// startup so a drained or misconfigured account fails fast.
func (c *Client) WalletBalance(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")

	var result walletListResult
	retCode, err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", query, nil, &result)
	if err != nil {
		return decimal.Zero, err
	}
	if retCode != retCodeOK || len(result.List) == 0 {
		return decimal.Zero, domain.NewExchangeError("balance",
			fmt.Errorf("wallet balance unavailable (code=%d)", retCode))
	}
	return decimal.NewFromString(result.List[0].TotalEquity)
}

// doRequest handles auth headers, serialization, and transport-level error
// classification. It unmarshals the envelope's result into out and returns
// the business retCode for the caller to interpret.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) (int, error) {
	var bodyReader io.Reader
	var payload string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return 0, domain.NewPermanentExchangeError("encode", err)
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
		payload = string(jsonBytes)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		encoded := query.Encode()
		reqURL += "?" + encoded
		payload = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return 0, domain.NewPermanentExchangeError("request", err)
	}

	for k, v := range c.signer.GenerateHeaders(payload) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures leave the call's effect unknown.
		return 0, domain.NewExchangeError("transport", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, domain.NewExchangeError("read", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return 0, domain.NewExchangeError("http",
				fmt.Errorf("status=%d body=%s", resp.StatusCode, string(bodyBytes)))
		}
		return 0, domain.NewPermanentExchangeError("http",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var envelope apiResponse
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return 0, domain.NewExchangeError("decode", err)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return 0, domain.NewExchangeError("decode", err)
		}
	}

	return envelope.RetCode, nil
}

func sideToAPI(side domain.Side) string {
	if side == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}
