// Package execution submits buy and sell intents and reports fills.
package execution

import (
	"context"
	"errors"
	"time"

	"solana-momentum-bot-go/internal/models"
)

var (
	// ErrExecutionTimeout means the submission did not complete within its deadline.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrExecutionRejected means the venue refused or failed the submission.
	ErrExecutionRejected = errors.New("execution rejected")
)

// Order is one submission. Buys spend Notional USD, sells dispose of Quantity tokens.
// IdempotencyKey must stay the same across retries of the same intent.
type Order struct {
	IdempotencyKey string      `json:"idempotency_key"`
	PositionID     string      `json:"position_id"`
	Token          string      `json:"token"`
	Side           models.Side `json:"side"`
	Notional       float64     `json:"notional,omitempty"`
	Quantity       float64     `json:"quantity,omitempty"`
}

// Fill is a confirmed execution.
type Fill struct {
	IdempotencyKey string    `json:"idempotency_key"`
	FilledPrice    float64   `json:"filled_price"`
	FilledAmount   float64   `json:"filled_amount"` // token quantity
	Notional       float64   `json:"notional"`      // USD value at FilledPrice
	Fee            float64   `json:"fee"`
	Timestamp      time.Time `json:"timestamp"`
}

// Gateway 定义了所有执行网关实现必须提供的方法。
// 这使得控制器可以在模拟交易和真实交易之间轻松切换。
type Gateway interface {
	Submit(ctx context.Context, order Order) (Fill, error)
}
