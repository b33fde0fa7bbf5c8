package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPGateway 通过外部兑换服务提交订单 (路由和签名由该服务负责).
// POST {base}/v1/swaps, 幂等键同时放在请求体和 Idempotency-Key 头中.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type swapResponse struct {
	Status       string  `json:"status"` // filled | rejected
	FilledPrice  float64 `json:"filled_price"`
	FilledAmount float64 `json:"filled_amount"`
	Notional     float64 `json:"notional"`
	Fee          float64 `json:"fee"`
	Timestamp    int64   `json:"timestamp"` // unix ms
	Message      string  `json:"message"`
}

// NewHTTPGateway creates a gateway for the swap service at baseURL.
func NewHTTPGateway(baseURL, apiKey string, logger *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Submit implements Gateway. The deadline comes from ctx.
func (g *HTTPGateway) Submit(ctx context.Context, order Order) (Fill, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: encode order: %v", ErrExecutionRejected, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/swaps", bytes.NewReader(body))
	if err != nil {
		return Fill{}, fmt.Errorf("%w: create request: %v", ErrExecutionRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", order.IdempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fill{}, fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
		return Fill{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fill{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return Fill{}, fmt.Errorf("%w: status %d", ErrExecutionTimeout, resp.StatusCode)
	case resp.StatusCode >= 500:
		// 服务端错误可以重试
		return Fill{}, fmt.Errorf("swap service error, status %d: %s", resp.StatusCode, string(raw))
	case resp.StatusCode != http.StatusOK:
		return Fill{}, fmt.Errorf("%w: status %d: %s", ErrExecutionRejected, resp.StatusCode, string(raw))
	}

	var sr swapResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return Fill{}, fmt.Errorf("%w: decode response: %v", ErrExecutionRejected, err)
	}
	if sr.Status != "filled" || sr.FilledPrice <= 0 || sr.FilledAmount <= 0 {
		return Fill{}, fmt.Errorf("%w: %s %s", ErrExecutionRejected, sr.Status, sr.Message)
	}

	ts := time.Now().UTC()
	if sr.Timestamp > 0 {
		ts = time.UnixMilli(sr.Timestamp).UTC()
	}
	notional := sr.Notional
	if notional <= 0 {
		notional = sr.FilledPrice * sr.FilledAmount
	}
	g.logger.Info("Swap filled",
		zap.String("token", order.Token),
		zap.String("side", string(order.Side)),
		zap.String("key", order.IdempotencyKey),
		zap.Float64("price", sr.FilledPrice),
		zap.Float64("amount", sr.FilledAmount))
	return Fill{
		IdempotencyKey: order.IdempotencyKey,
		FilledPrice:    sr.FilledPrice,
		FilledAmount:   sr.FilledAmount,
		Notional:       notional,
		Fee:            sr.Fee,
		Timestamp:      ts,
	}, nil
}
