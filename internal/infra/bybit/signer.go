package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer handles Bybit V5 API authentication signatures
type Signer struct {
	apiKey     string
	apiSecret  string
	recvWindow string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, apiSecret string, recvWindowMS int) *Signer {
	return &Signer{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: fmt.Sprintf("%d", recvWindowMS),
	}
}

// GenerateHeaders creates the necessary headers for a request.
// payload is the raw query string for GET requests or the JSON body for
// POST requests (empty if none).
func (s *Signer) GenerateHeaders(payload string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	return s.headersAt(timestamp, payload)
}

// headersAt builds the signed header set for a fixed timestamp.
// Bybit V5 signing rule: HMAC_SHA256(timestamp + apiKey + recvWindow + payload),
// hex encoded.
func (s *Signer) headersAt(timestamp, payload string) map[string]string {
	sign := computeHmacSha256(timestamp+s.apiKey+s.recvWindow+payload, s.apiSecret)

	return map[string]string{
		"X-BAPI-API-KEY":     s.apiKey,
		"X-BAPI-SIGN":        sign,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-RECV-WINDOW": s.recvWindow,
		"Content-Type":       "application/json",
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
