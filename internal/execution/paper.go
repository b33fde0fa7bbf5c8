package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-momentum-bot-go/internal/models"

	"go.uber.org/zap"
)

// Quoter returns the current price of a token.
type Quoter interface {
	Quote(ctx context.Context, token string) (float64, error)
}

// QuoteFunc adapts a function to Quoter.
type QuoteFunc func(ctx context.Context, token string) (float64, error)

// Quote implements Quoter.
func (f QuoteFunc) Quote(ctx context.Context, token string) (float64, error) { return f(ctx, token) }

// PaperGateway 模拟成交: 以最新报价加滑点成交, 并按费用模型收取手续费.
// 同一个幂等键只会成交一次, 重复提交返回第一次的结果.
type PaperGateway struct {
	quotes Quoter
	fees   FeeModel
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	fills map[string]Fill
}

// NewPaperGateway creates a paper gateway.
func NewPaperGateway(quotes Quoter, fees FeeModel, logger *zap.Logger) *PaperGateway {
	return &PaperGateway{
		quotes: quotes,
		fees:   fees,
		now:    time.Now,
		logger: logger,
		fills:  make(map[string]Fill),
	}
}

// Submit implements Gateway.
func (g *PaperGateway) Submit(ctx context.Context, order Order) (Fill, error) {
	if order.IdempotencyKey == "" {
		return Fill{}, fmt.Errorf("%w: missing idempotency key", ErrExecutionRejected)
	}
	g.mu.Lock()
	if f, ok := g.fills[order.IdempotencyKey]; ok {
		g.mu.Unlock()
		return f, nil
	}
	g.mu.Unlock()

	price, err := g.quotes.Quote(ctx, order.Token)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: quote %s: %v", ErrExecutionRejected, order.Token, err)
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("%w: no price for %s", ErrExecutionRejected, order.Token)
	}

	fill := Fill{IdempotencyKey: order.IdempotencyKey, Timestamp: g.now().UTC()}
	switch order.Side {
	case models.Buy:
		if order.Notional <= 0 {
			return Fill{}, fmt.Errorf("%w: buy without notional", ErrExecutionRejected)
		}
		fill.FilledPrice, fill.FilledAmount, fill.Fee = g.fees.Buy(price, order.Notional)
		fill.Notional = order.Notional
	case models.Sell:
		if order.Quantity <= 0 {
			return Fill{}, fmt.Errorf("%w: sell without quantity", ErrExecutionRejected)
		}
		fill.FilledPrice, fill.Notional, fill.Fee = g.fees.Sell(price, order.Quantity)
		fill.FilledAmount = order.Quantity
	default:
		return Fill{}, fmt.Errorf("%w: unknown side %q", ErrExecutionRejected, order.Side)
	}

	g.mu.Lock()
	if f, ok := g.fills[order.IdempotencyKey]; ok {
		g.mu.Unlock()
		return f, nil
	}
	g.fills[order.IdempotencyKey] = fill
	g.mu.Unlock()

	g.logger.Sugar().Infof("[PAPER] %s %s: %.6f @ %.8f, notional %.2f, fee %.4f",
		order.Side, order.Token, fill.FilledAmount, fill.FilledPrice, fill.Notional, fill.Fee)
	return fill, nil
}
