package regime

import (
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func build(n int, price func(i int) float64, volume func(i int) float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		p := price(i)
		out[i] = models.Candle{Time: time.Unix(int64(i*60), 0), Open: p, High: p, Low: p, Close: p, Volume: volume(i)}
	}
	return out
}

func uptrend() []models.Candle {
	return build(60, func(i int) float64 { return 100 + float64(i)*0.5 }, func(i int) float64 {
		if i >= 40 {
			return 200
		}
		return 100
	})
}

func downtrend() []models.Candle {
	return build(60, func(i int) float64 { return 200 - float64(i)*0.5 }, func(i int) float64 {
		if i >= 40 {
			return 50
		}
		return 100
	})
}

func choppy() []models.Candle {
	return build(60, func(i int) float64 {
		if i%2 == 0 {
			return 100
		}
		return 103
	}, func(int) float64 { return 100 })
}

func TestClassify(t *testing.T) {
	assert.Equal(t, models.RegimeTrendingUp, Classify(uptrend()))
	assert.Equal(t, models.RegimeTrendingDown, Classify(downtrend()))
	assert.Equal(t, models.RegimeChoppy, Classify(choppy()))
	assert.Equal(t, models.RegimeUnknown, Classify(uptrend()[:MinSamples-1]))
}

func TestAggregate(t *testing.T) {
	now := time.Unix(1000, 0)

	st := Aggregate(map[string][]models.Candle{"A": uptrend(), "B": uptrend()[:10]}, now)
	assert.Equal(t, models.RegimeTrendingUp, st.Regime)
	assert.Equal(t, 1, st.Tokens, "short series do not contribute")
	assert.InDelta(t, 0.0, st.Confidence, 1e-9, "all four signals agree")

	empty := Aggregate(map[string][]models.Candle{"A": uptrend()[:10]}, now)
	assert.Equal(t, models.RegimeUnknown, empty.Regime)

	mixed := Aggregate(map[string][]models.Candle{"A": choppy(), "B": downtrend()}, now)
	// (0.5 + 0.375) / 2
	assert.Equal(t, models.RegimeChoppy, mixed.Regime)
	assert.Equal(t, 2, mixed.Tokens)
}

func TestDetector_Update(t *testing.T) {
	d := NewDetector(zap.NewNop())
	assert.Equal(t, models.RegimeUnknown, d.Current().Regime)

	st, shifted := d.Update(map[string][]models.Candle{"A": uptrend()}, time.Now())
	require.True(t, shifted)
	assert.Equal(t, models.RegimeTrendingUp, st.Regime)

	_, shifted = d.Update(map[string][]models.Candle{"A": uptrend()}, time.Now())
	assert.False(t, shifted)

	_, shifted = d.Update(map[string][]models.Candle{"A": downtrend()}, time.Now())
	assert.True(t, shifted)
	assert.Equal(t, models.RegimeTrendingDown, d.Current().Regime)
	assert.Len(t, d.Shifts(), 2)
}
