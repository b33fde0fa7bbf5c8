package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solana-momentum-bot-go/internal/models"

	"go.uber.org/zap"
)

// DexScreenerFeed reads token pairs from the DexScreener REST API and uses the
// Solana pair with the deepest USD liquidity.
type DexScreenerFeed struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	PairAddr  string `json:"pairAddress"`
	PriceUSD  string `json:"priceUsd"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// NewDexScreenerFeed creates the feed. timeout bounds every request.
func NewDexScreenerFeed(baseURL string, timeout time.Duration, logger *zap.Logger) *DexScreenerFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DexScreenerFeed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
		now:        time.Now,
	}
}

// GetSnapshot implements PriceFeed.
func (f *DexScreenerFeed) GetSnapshot(ctx context.Context, token string) (models.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/latest/dex/tokens/%s", f.baseURL, token), nil)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, token, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: read body: %v", ErrFeedUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s: status %d", ErrFeedUnavailable, token, resp.StatusCode)
	}

	var dr dexResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: decode: %v", ErrFeedUnavailable, err)
	}

	best, ok := bestPair(dr.Pairs, token)
	if !ok {
		return models.MarketSnapshot{}, fmt.Errorf("%w: no solana pair for %s", ErrFeedUnavailable, token)
	}
	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || price <= 0 {
		return models.MarketSnapshot{}, fmt.Errorf("%w: bad price %q for %s", ErrFeedUnavailable, best.PriceUSD, token)
	}

	return models.MarketSnapshot{
		Token:     token,
		Price:     price,
		Volume:    best.Volume.H24,
		Liquidity: best.Liquidity.USD,
		Timestamp: f.now().UTC(),
	}, nil
}

// bestPair picks the Solana pair quoting token as base with the most liquidity.
func bestPair(pairs []dexPair, token string) (dexPair, bool) {
	var best dexPair
	found := false
	for _, p := range pairs {
		if p.ChainID != "solana" || p.BaseToken.Address != token {
			continue
		}
		if !found || p.Liquidity.USD > best.Liquidity.USD {
			best = p
			found = true
		}
	}
	return best, found
}
