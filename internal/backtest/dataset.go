package backtest

import (
	"sort"
	"time"

	"solana-momentum-bot-go/internal/models"
	"solana-momentum-bot-go/internal/regime"
)

// Dataset is a read-only, time-aligned set of candle series with the market
// regime precomputed for every timestamp. One Dataset can be shared by any
// number of concurrent runs.
type Dataset struct {
	Tokens []string
	Window int

	series   map[string][]models.Candle
	timeline []time.Time
	regimes  []models.Regime
}

// NewDataset copies and sorts the series and drops repeated timestamps,
// keeping the last candle of each. window is the history length the
// live loop keeps per token; signals are evaluated on at most that many candles.
func NewDataset(series map[string][]models.Candle, window int) *Dataset {
	ds := &Dataset{Window: window, series: make(map[string][]models.Candle, len(series))}
	seen := make(map[int64]bool)
	for token, candles := range series {
		if len(candles) == 0 {
			continue
		}
		cp := make([]models.Candle, len(candles))
		copy(cp, candles)
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time.Before(cp[j].Time) })
		cp = dedupe(cp)
		ds.series[token] = cp
		ds.Tokens = append(ds.Tokens, token)
		for _, c := range cp {
			if k := c.Time.UnixNano(); !seen[k] {
				seen[k] = true
				ds.timeline = append(ds.timeline, c.Time)
			}
		}
	}
	sort.Strings(ds.Tokens)
	sort.Slice(ds.timeline, func(i, j int) bool { return ds.timeline[i].Before(ds.timeline[j]) })

	// regime per timestamp, from the same windows the engine will see
	ds.regimes = make([]models.Regime, len(ds.timeline))
	cursor := make(map[string]int, len(ds.Tokens))
	for i, t := range ds.timeline {
		windows := make(map[string][]models.Candle, len(ds.Tokens))
		for _, token := range ds.Tokens {
			c := ds.series[token]
			j := cursor[token]
			for j < len(c) && !c[j].Time.After(t) {
				j++
			}
			cursor[token] = j
			if j > 0 {
				windows[token] = ds.window(token, j)
			}
		}
		ds.regimes[i] = regime.Aggregate(windows, t).Regime
	}
	return ds
}

// dedupe keeps the last candle of each timestamp in a sorted series.
func dedupe(sorted []models.Candle) []models.Candle {
	out := sorted[:0]
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// window returns up to Window candles ending before index end.
func (ds *Dataset) window(token string, end int) []models.Candle {
	start := 0
	if ds.Window > 0 && end > ds.Window {
		start = end - ds.Window
	}
	return ds.series[token][start:end]
}

// Len returns the number of distinct timestamps.
func (ds *Dataset) Len() int { return len(ds.timeline) }

// Candles returns the total number of candles across all series.
func (ds *Dataset) Candles() int {
	n := 0
	for _, c := range ds.series {
		n += len(c)
	}
	return n
}

// Series returns a token's candles. The slice must not be modified.
func (ds *Dataset) Series(token string) []models.Candle { return ds.series[token] }

// Span returns the first and last timestamps.
func (ds *Dataset) Span() (time.Time, time.Time) {
	if len(ds.timeline) == 0 {
		return time.Time{}, time.Time{}
	}
	return ds.timeline[0], ds.timeline[len(ds.timeline)-1]
}
