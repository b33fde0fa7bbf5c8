// Package feed provides market snapshots for tokens.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-momentum-bot-go/internal/models"

	"go.uber.org/zap"
)

// ErrFeedUnavailable means no usable snapshot could be obtained this time.
// The token is skipped for the cycle and retried on the next one.
var ErrFeedUnavailable = errors.New("feed unavailable")

// PriceFeed returns the current price, volume and liquidity of a token.
type PriceFeed interface {
	GetSnapshot(ctx context.Context, token string) (models.MarketSnapshot, error)
}

// Chain tries feeds in order; the first success wins.
type Chain struct {
	feeds  []PriceFeed
	logger *zap.Logger
}

// NewChain creates a fallback chain.
func NewChain(logger *zap.Logger, feeds ...PriceFeed) *Chain {
	return &Chain{feeds: feeds, logger: logger}
}

// GetSnapshot implements PriceFeed.
func (c *Chain) GetSnapshot(ctx context.Context, token string) (models.MarketSnapshot, error) {
	var errs []error
	for i, f := range c.feeds {
		snap, err := f.GetSnapshot(ctx, token)
		if err == nil {
			return snap, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Debug("Feed failed, trying next", zap.Int("feed", i), zap.String("token", token), zap.Error(err))
	}
	return models.MarketSnapshot{}, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, token, errors.Join(errs...))
}

// New builds the feed selected in configuration. The returned stop function
// releases background connections.
func New(ctx context.Context, cfg models.FeedConfig, tokens []string, logger *zap.Logger) (PriceFeed, func(), error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	staleness := time.Duration(cfg.MaxStalenessSec) * time.Second

	switch cfg.Provider {
	case "dexscreener":
		return NewDexScreenerFeed(cfg.BaseURL, timeout, logger), func() {}, nil
	case "stream":
		s := NewStreamFeed(cfg.StreamURL, tokens, staleness, logger)
		s.Start(ctx)
		return s, s.Close, nil
	case "chain":
		s := NewStreamFeed(cfg.StreamURL, tokens, staleness, logger)
		s.Start(ctx)
		return NewChain(logger, s, NewDexScreenerFeed(cfg.BaseURL, timeout, logger)), s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown feed provider %q", cfg.Provider)
}
