package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type streamMessage struct {
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Liquidity float64 `json:"liquidity"`
	TS        int64   `json:"ts"` // unix ms
}

type subscribeMessage struct {
	Op     string   `json:"op"`
	Tokens []string `json:"tokens"`
}

// StreamFeed subscribes to a websocket price stream and serves the latest
// message per token from memory. A missing or stale entry is unavailable.
type StreamFeed struct {
	url          string
	tokens       []string
	wanted       map[string]bool
	maxStaleness time.Duration
	readTimeout  time.Duration
	retryDelay   time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu     sync.RWMutex
	latest map[string]models.MarketSnapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamFeed creates a stream feed for tokens. Call Start to connect.
func NewStreamFeed(url string, tokens []string, maxStaleness time.Duration, logger *zap.Logger) *StreamFeed {
	wanted := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		wanted[t] = true
	}
	return &StreamFeed{
		url:          url,
		tokens:       tokens,
		wanted:       wanted,
		maxStaleness: maxStaleness,
		readTimeout:  60 * time.Second,
		retryDelay:   500 * time.Millisecond,
		logger:       logger,
		now:          time.Now,
		latest:       make(map[string]models.MarketSnapshot),
		done:         make(chan struct{}),
	}
}

// Start runs the connection loop until ctx is canceled or Close is called.
func (s *StreamFeed) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Close stops the connection loop and waits for it.
func (s *StreamFeed) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// GetSnapshot implements PriceFeed.
func (s *StreamFeed) GetSnapshot(_ context.Context, token string) (models.MarketSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.latest[token]
	s.mu.RUnlock()
	if !ok {
		return models.MarketSnapshot{}, fmt.Errorf("%w: no stream data for %s", ErrFeedUnavailable, token)
	}
	if age := s.now().Sub(snap.Timestamp); s.maxStaleness > 0 && age > s.maxStaleness {
		return models.MarketSnapshot{}, fmt.Errorf("%w: stream data for %s is %v old", ErrFeedUnavailable, token, age.Round(time.Second))
	}
	return snap, nil
}

func (s *StreamFeed) run(ctx context.Context) {
	defer close(s.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.logger.Warn("Price stream disconnected, reconnecting", zap.String("url", s.url), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session holds one connection until it fails. connected reports whether the
// dial and subscription succeeded.
func (s *StreamFeed) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Tokens: s.tokens}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("Price stream connected", zap.String("url", s.url), zap.Int("tokens", len(s.tokens)))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("Ignoring malformed stream message", zap.Error(err))
			continue
		}
		s.store(msg)
	}
}

func (s *StreamFeed) store(msg streamMessage) {
	if !s.wanted[msg.Token] || msg.Price <= 0 {
		return
	}
	ts := s.now().UTC()
	if msg.TS > 0 {
		ts = time.UnixMilli(msg.TS).UTC()
	}
	snap := models.MarketSnapshot{
		Token:     msg.Token,
		Price:     msg.Price,
		Volume:    msg.Volume,
		Liquidity: msg.Liquidity,
		Timestamp: ts,
	}
	s.mu.Lock()
	if prev, ok := s.latest[msg.Token]; !ok || !snap.Timestamp.Before(prev.Timestamp) {
		s.latest[msg.Token] = snap
	}
	s.mu.Unlock()
}
