package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tradeguard/internal/domain"
)

// SentimentClient fetches sentiment scores from the external model service.
// It is a thin adapter: the model itself is a black box that returns a
// score in [0,1] per symbol.
type SentimentClient struct {
	baseURL    string
	httpClient *http.Client
}

// scoreResponse is the model service wire format.
type scoreResponse struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

// NewSentimentClient creates a client against the scoring service.
func NewSentimentClient(baseURL string, timeoutSec int) *SentimentClient {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &SentimentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

// Score fetches the current sentiment score for a symbol. Every failure is
// wrapped in ErrSignalUnavailable so the coordinator can treat the cycle
// as Hold without inspecting transport details.
func (c *SentimentClient) Score(ctx context.Context, symbol string) (float64, error) {
	reqURL := c.baseURL + "/score?symbol=" + url.QueryEscape(symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSignalUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSignalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status code %d", domain.ErrSignalUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSignalUnavailable, err)
	}

	var data scoreResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSignalUnavailable, err)
	}

	if data.Score < 0 || data.Score > 1 {
		return 0, fmt.Errorf("%w: score %v outside [0,1]", domain.ErrSignalUnavailable, data.Score)
	}

	return data.Score, nil
}
