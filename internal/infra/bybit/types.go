package bybit

import "encoding/json"

// apiResponse is the Bybit V5 envelope shared by every endpoint.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`      // Buy, Sell
	OrderType   string `json:"orderType"` // Market
	Qty         string `json:"qty"`
	TimeInForce string `json:"timeInForce"`
	OrderLinkID string `json:"orderLinkId"`
}

type createOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderEntry struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
}

type orderListResult struct {
	List []orderEntry `json:"list"`
}

type tickerEntry struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type tickerListResult struct {
	List []tickerEntry `json:"list"`
}

type walletEntry struct {
	TotalEquity string `json:"totalEquity"`
}

type walletListResult struct {
	List []walletEntry `json:"list"`
}

// WebSocket wire types (public ticker stream).

type wsSubscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type wsTickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type wsTickerMessage struct {
	Topic string       `json:"topic"`
	Data  wsTickerData `json:"data"`
}
