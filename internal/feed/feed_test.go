package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

type staticFeed struct {
	snap models.MarketSnapshot
	err  error
}

func (f staticFeed) GetSnapshot(ctx context.Context, token string) (models.MarketSnapshot, error) {
	return f.snap, f.err
}

func TestDexScreenerFeed_PicksDeepestSolanaPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/"+bonk, r.URL.Path)
		fmt.Fprintf(w, `{"pairs":[
			{"chainId":"ethereum","priceUsd":"9","baseToken":{"address":"%[1]s"},"liquidity":{"usd":9000000}},
			{"chainId":"solana","priceUsd":"0.000021","baseToken":{"address":"%[1]s"},"volume":{"h24":150000},"liquidity":{"usd":2500000}},
			{"chainId":"solana","priceUsd":"0.000020","baseToken":{"address":"%[1]s"},"volume":{"h24":9000},"liquidity":{"usd":40000}},
			{"chainId":"solana","priceUsd":"1","baseToken":{"address":"other"},"liquidity":{"usd":90000000}}
		]}`, bonk)
	}))
	defer srv.Close()

	f := NewDexScreenerFeed(srv.URL, time.Second, zap.NewNop())
	snap, err := f.GetSnapshot(context.Background(), bonk)
	require.NoError(t, err)
	assert.Equal(t, 0.000021, snap.Price)
	assert.Equal(t, 150000.0, snap.Volume)
	assert.Equal(t, 2500000.0, snap.Liquidity)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestDexScreenerFeed_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/down"):
			w.WriteHeader(http.StatusServiceUnavailable)
		case strings.HasSuffix(r.URL.Path, "/slow"):
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `{"pairs":[]}`)
		default:
			fmt.Fprint(w, `{"pairs":[]}`)
		}
	}))
	defer srv.Close()

	f := NewDexScreenerFeed(srv.URL, 50*time.Millisecond, zap.NewNop())
	for _, token := range []string{"down", "slow", "empty"} {
		_, err := f.GetSnapshot(context.Background(), token)
		assert.ErrorIs(t, err, ErrFeedUnavailable, token)
	}
}

func TestChain_FirstSuccessWins(t *testing.T) {
	good := staticFeed{snap: models.MarketSnapshot{Token: "T", Price: 2}}
	bad := staticFeed{err: errors.New("boom")}

	snap, err := NewChain(zap.NewNop(), bad, good).GetSnapshot(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap.Price)

	_, err = NewChain(zap.NewNop(), bad, bad).GetSnapshot(context.Background(), "T")
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Contains(t, err.Error(), "boom")
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func TestStreamFeed_ServesLatestAndReconnects(t *testing.T) {
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		assert.Equal(t, "subscribe", sub.Op)
		assert.Equal(t, []string{bonk}, sub.Tokens)

		n := sessions.Add(1)
		ts := time.Now().UnixMilli()
		_ = conn.WriteJSON(streamMessage{Token: "unwanted", Price: 5, TS: ts})
		_ = conn.WriteJSON(streamMessage{Token: bonk, Price: float64(n), Volume: 10, Liquidity: 2e6, TS: ts})
		if n == 1 {
			return // drop the first connection
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewStreamFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{bonk}, time.Minute, zap.NewNop())
	f.retryDelay = 10 * time.Millisecond
	f.Start(context.Background())
	defer f.Close()

	assert.Eventually(t, func() bool {
		snap, err := f.GetSnapshot(context.Background(), bonk)
		return err == nil && snap.Price == 2
	}, 5*time.Second, 10*time.Millisecond)

	_, err := f.GetSnapshot(context.Background(), "unwanted")
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestStreamFeed_StaleEntriesAreUnavailable(t *testing.T) {
	f := NewStreamFeed("ws://unused", []string{bonk}, time.Minute, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	f.store(streamMessage{Token: bonk, Price: 1, TS: now.Add(-30 * time.Second).UnixMilli()})
	_, err := f.GetSnapshot(context.Background(), bonk)
	require.NoError(t, err)

	// an older message never replaces a newer one
	f.store(streamMessage{Token: bonk, Price: 9, TS: now.Add(-50 * time.Second).UnixMilli()})
	snap, err := f.GetSnapshot(context.Background(), bonk)
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Price)

	now = now.Add(time.Minute)
	_, err = f.GetSnapshot(context.Background(), bonk)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}
