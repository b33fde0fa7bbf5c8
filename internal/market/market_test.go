package market

import (
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(i int) models.Candle {
	p := float64(i)
	return models.Candle{Time: time.Unix(int64(i), 0), Open: p, High: p, Low: p, Close: p}
}

func TestHistory_RingBuffer(t *testing.T) {
	h := NewHistory(3)
	_, ok := h.Last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		h.Append(sample(i))
	}

	assert.Equal(t, 3, h.Len())
	w := h.Window(0)
	require.Len(t, w, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{w[0].Close, w[1].Close, w[2].Close})

	w2 := h.Window(2)
	assert.Equal(t, 4.0, w2[0].Close)
	assert.Equal(t, 5.0, w2[1].Close)

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Close)

	// returned windows are copies
	w2[0].Close = 99
	assert.Equal(t, 4.0, h.Window(2)[0].Close)
}

func TestUniverse_LiquidityGateKeepsHistory(t *testing.T) {
	u := NewUniverse([]models.TokenConfig{{Mint: "A", Symbol: "AAA"}, {Mint: "B"}}, 10, 1_000_000)

	require.NoError(t, u.Observe(models.MarketSnapshot{Token: "A", Price: 1, Liquidity: 2_000_000, Timestamp: time.Unix(1, 0)}))
	require.NoError(t, u.Observe(models.MarketSnapshot{Token: "B", Price: 1, Liquidity: 10, Timestamp: time.Unix(1, 0)}))
	require.NoError(t, u.Observe(models.MarketSnapshot{Token: "B", Price: 2, Liquidity: 10, Timestamp: time.Unix(2, 0)}))

	assert.True(t, u.Eligible("A"))
	assert.False(t, u.Eligible("B"))
	assert.Len(t, u.History("B", 0), 2, "ineligible tokens keep their history")

	assert.Error(t, u.Observe(models.MarketSnapshot{Token: "C", Timestamp: time.Unix(1, 0)}))
	assert.Equal(t, "AAA", u.Symbol("A"))
	assert.Equal(t, "B", u.Symbol("B"))

	hs := u.Histories(2)
	assert.Len(t, hs, 1)
	assert.Contains(t, hs, "B")
}

func TestHistory_DropsSamplesThatAreNotNewer(t *testing.T) {
	h := NewHistory(5)
	assert.True(t, h.Append(sample(1)))
	assert.True(t, h.Append(sample(2)))
	assert.False(t, h.Append(sample(2)), "same timestamp")
	assert.False(t, h.Append(sample(1)), "out of order")
	assert.True(t, h.Append(sample(3)))

	w := h.Window(0)
	require.Len(t, w, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{w[0].Close, w[1].Close, w[2].Close})
}

func TestUniverse_ObserveIgnoresStaleSnapshots(t *testing.T) {
	u := NewUniverse([]models.TokenConfig{{Mint: "A"}}, 10, 0)
	ts := time.Unix(100, 0)

	fresh := models.MarketSnapshot{Token: "A", Price: 1, Liquidity: 5e6, Timestamp: ts}
	require.NoError(t, u.Observe(fresh))
	// a cached quote served again by the feed
	require.NoError(t, u.Observe(fresh))
	// an older quote arriving late
	require.NoError(t, u.Observe(models.MarketSnapshot{Token: "A", Price: 0.5, Liquidity: 5e6, Timestamp: ts.Add(-time.Second)}))

	hist := u.History("A", 0)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Time.Equal(ts))
	last, ok := u.Last("A")
	require.True(t, ok)
	assert.Equal(t, 1.0, last.Price)

	require.NoError(t, u.Observe(models.MarketSnapshot{Token: "A", Price: 2, Liquidity: 5e6, Timestamp: ts.Add(time.Second)}))
	assert.Len(t, u.History("A", 0), 2)
	last, _ = u.Last("A")
	assert.Equal(t, 2.0, last.Price)
}
