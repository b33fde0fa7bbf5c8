package regime

import (
	"math"
	"sort"
	"sync"
	"time"

	"solana-momentum-bot-go/internal/indicators"
	"solana-momentum-bot-go/internal/models"

	"go.uber.org/zap"
)

const (
	// MinSamples is the history length a series needs before it is classified.
	MinSamples = 50

	bullThreshold = 0.6
	bearThreshold = 0.4
	maxShifts     = 100
)

type signals struct {
	trend, volatility, momentum, volume float64
}

func (s signals) bullish() float64 {
	return (s.trend + s.volatility + s.momentum + s.volume) / 4
}

func (s signals) confidence() float64 {
	vals := []float64{s.trend, s.volatility, s.momentum, s.volume}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

// compute derives the four bullishness signals from the last MinSamples candles.
func compute(candles []models.Candle) (signals, bool) {
	if len(candles) < MinSamples {
		return signals{}, false
	}
	window := candles[len(candles)-MinSamples:]
	closes := indicators.Closes(window)
	volumes := indicators.Volumes(window)
	recent, prev := closes[MinSamples-20:], closes[:MinSamples-20]

	var s signals

	// higher highs and higher lows
	s.trend = 0.5
	if maxOf(recent) > maxOf(prev) {
		s.trend += 0.25
	}
	if minOf(recent) > minOf(prev) {
		s.trend += 0.25
	}

	var changes float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			changes += math.Abs(closes[i]-closes[i-1]) / closes[i-1]
		}
	}
	switch avg := changes / float64(len(closes)-1); {
	case avg < 0.02:
		s.volatility = 1
	case avg > 0.05:
		s.volatility = 0
	default:
		s.volatility = 0.5
	}

	s.momentum = indicators.RSI(closes, 14) / 100

	recentVol := mean(volumes[MinSamples-20:])
	prevVol := mean(volumes[:MinSamples-20])
	switch {
	case recentVol > prevVol*1.2:
		s.volume = 1
	case recentVol < prevVol*0.8:
		s.volume = 0
	default:
		s.volume = 0.5
	}
	return s, true
}

func classify(bullish float64) models.Regime {
	switch {
	case bullish > bullThreshold:
		return models.RegimeTrendingUp
	case bullish < bearThreshold:
		return models.RegimeTrendingDown
	default:
		return models.RegimeChoppy
	}
}

func state(s signals, tokens int, now time.Time) models.RegimeState {
	return models.RegimeState{
		Regime:     classify(s.bullish()),
		Confidence: s.confidence(),
		Trend:      s.trend,
		Volatility: s.volatility,
		Momentum:   s.momentum,
		Volume:     s.volume,
		Tokens:     tokens,
		UpdatedAt:  now,
	}
}

// Classify classifies a single series.
func Classify(candles []models.Candle) models.Regime {
	s, ok := compute(candles)
	if !ok {
		return models.RegimeUnknown
	}
	return classify(s.bullish())
}

// Aggregate averages the signals of every series with enough history.
// Series are visited in key order so the floating point sums are reproducible.
func Aggregate(histories map[string][]models.Candle, now time.Time) models.RegimeState {
	keys := make([]string, 0, len(histories))
	for k := range histories {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sum signals
	n := 0
	for _, k := range keys {
		s, ok := compute(histories[k])
		if !ok {
			continue
		}
		sum.trend += s.trend
		sum.volatility += s.volatility
		sum.momentum += s.momentum
		sum.volume += s.volume
		n++
	}
	if n == 0 {
		return models.RegimeState{Regime: models.RegimeUnknown, UpdatedAt: now}
	}
	f := float64(n)
	avg := signals{sum.trend / f, sum.volatility / f, sum.momentum / f, sum.volume / f}
	return state(avg, n, now)
}

// Detector keeps the current market regime and a bounded record of shifts.
type Detector struct {
	mu      sync.RWMutex
	current models.RegimeState
	shifts  []models.RegimeState
	logger  *zap.Logger
}

// NewDetector creates a detector starting in the unknown regime.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		current: models.RegimeState{Regime: models.RegimeUnknown},
		logger:  logger,
	}
}

// Update reclassifies the market and reports whether the regime changed.
func (d *Detector) Update(histories map[string][]models.Candle, now time.Time) (models.RegimeState, bool) {
	next := Aggregate(histories, now)

	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.current.Regime
	d.current = next
	if next.Regime == prev {
		return next, false
	}
	d.shifts = append(d.shifts, next)
	if len(d.shifts) > maxShifts {
		d.shifts = d.shifts[len(d.shifts)-maxShifts:]
	}
	d.logger.Sugar().Infof("Regime shift: %s -> %s (confidence %.2f, %d tokens)", prev, next.Regime, next.Confidence, next.Tokens)
	return next, true
}

// Current returns the latest classification.
func (d *Detector) Current() models.RegimeState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Shifts returns the recorded regime changes, oldest first.
func (d *Detector) Shifts() []models.RegimeState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.RegimeState, len(d.shifts))
	copy(out, d.shifts)
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		m = math.Max(m, x)
	}
	return m
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		m = math.Min(m, x)
	}
	return m
}
