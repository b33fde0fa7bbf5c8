package market

import (
	"fmt"
	"sync"

	"solana-momentum-bot-go/internal/models"
)

type tokenEntry struct {
	config  models.TokenConfig
	history *History
	last    models.MarketSnapshot
	seen    bool
}

// Universe is the fixed set of scanned tokens and their rolling histories.
// Tokens below the liquidity floor stay in the universe and keep recording
// history; they are only excluded from signal evaluation.
type Universe struct {
	mu           sync.RWMutex
	minLiquidity float64
	order        []string
	tokens       map[string]*tokenEntry
}

// NewUniverse builds the scan universe from configuration.
func NewUniverse(tokens []models.TokenConfig, historySize int, minLiquidity float64) *Universe {
	u := &Universe{
		minLiquidity: minLiquidity,
		tokens:       make(map[string]*tokenEntry, len(tokens)),
	}
	for _, t := range tokens {
		if _, ok := u.tokens[t.Mint]; ok {
			continue
		}
		u.order = append(u.order, t.Mint)
		u.tokens[t.Mint] = &tokenEntry{config: t, history: NewHistory(historySize)}
	}
	return u
}

// Tokens returns the configured tokens in configuration order.
func (u *Universe) Tokens() []models.TokenConfig {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]models.TokenConfig, 0, len(u.order))
	for _, mint := range u.order {
		out = append(out, u.tokens[mint].config)
	}
	return out
}

// Symbol returns a display name for the token.
func (u *Universe) Symbol(mint string) string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if e, ok := u.tokens[mint]; ok && e.config.Symbol != "" {
		return e.config.Symbol
	}
	return mint
}

// Observe records a fresh snapshot into the token's history. A snapshot that
// is not newer than the last recorded sample (a cached quote served again) is
// ignored.
func (u *Universe) Observe(snap models.MarketSnapshot) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.tokens[snap.Token]
	if !ok {
		return fmt.Errorf("token %s is not in the universe", snap.Token)
	}
	if !e.history.Append(snap.Candle()) {
		return nil
	}
	e.last = snap
	e.seen = true
	return nil
}

// Eligible reports whether the token's latest liquidity clears the floor.
func (u *Universe) Eligible(mint string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	e, ok := u.tokens[mint]
	return ok && e.seen && e.last.Liquidity >= u.minLiquidity
}

// Last returns the latest snapshot recorded for the token.
func (u *Universe) Last(mint string) (models.MarketSnapshot, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	e, ok := u.tokens[mint]
	if !ok || !e.seen {
		return models.MarketSnapshot{}, false
	}
	return e.last, true
}

// History returns a copy of the latest n samples for the token.
func (u *Universe) History(mint string, n int) []models.Candle {
	u.mu.RLock()
	e, ok := u.tokens[mint]
	u.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.history.Window(n)
}

// Histories returns copies of every history holding at least minLen samples.
func (u *Universe) Histories(minLen int) map[string][]models.Candle {
	u.mu.RLock()
	entries := make([]*tokenEntry, 0, len(u.order))
	for _, mint := range u.order {
		entries = append(entries, u.tokens[mint])
	}
	u.mu.RUnlock()

	out := make(map[string][]models.Candle)
	for _, e := range entries {
		if e.history.Len() < minLen {
			continue
		}
		out[e.config.Mint] = e.history.Window(0)
	}
	return out
}
