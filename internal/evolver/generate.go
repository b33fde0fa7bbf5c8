package evolver

import (
	"fmt"
	"math"
	"math/rand"

	"solana-momentum-bot-go/internal/models"
)

// Bounds is an inclusive search range for one parameter.
type Bounds struct{ Min, Max float64 }

// SearchSpace 定义了每个可进化参数的绝对取值范围
type SearchSpace struct {
	RSIPeriod        Bounds
	RSILow           Bounds
	RSIHigh          Bounds
	VolumeMultiplier Bounds
	EntryThreshold   Bounds
	ExitThreshold    Bounds
	StopLossPct      Bounds
	TakeProfitPct    Bounds
	// Radius is the fraction of each range a candidate may move away from the
	// current best.
	Radius float64
}

// DefaultSearchSpace returns the ranges the controller evolves within.
func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		RSIPeriod:        Bounds{12, 18},
		RSILow:           Bounds{52, 60},
		RSIHigh:          Bounds{60, 68},
		VolumeMultiplier: Bounds{1.2, 2.0},
		EntryThreshold:   Bounds{55, 80},
		ExitThreshold:    Bounds{20, 45},
		StopLossPct:      Bounds{0.10, 0.20},
		TakeProfitPct:    Bounds{0.25, 0.40},
		Radius:           0.5,
	}
}

// around draws a value within radius of cur, clamped to b.
func (b Bounds) around(rng *rand.Rand, cur, radius float64) float64 {
	span := (b.Max - b.Min) * radius
	lo := math.Max(b.Min, math.Min(cur, b.Max)-span)
	hi := math.Min(b.Max, math.Max(cur, b.Min)+span)
	return lo + rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Generate returns n perturbations of best. The same (best, generation, seed)
// always gives the same candidates.
func Generate(best models.StrategyParams, space SearchSpace, n, generation int, seed int64) []models.StrategyConfig {
	rng := rand.New(rand.NewSource(seed + int64(generation)))
	out := make([]models.StrategyConfig, 0, n)
	for i := 0; i < n; i++ {
		p := best
		p.RSIPeriod = int(math.Round(space.RSIPeriod.around(rng, float64(best.RSIPeriod), space.Radius)))
		p.RSILow = round(space.RSILow.around(rng, best.RSILow, space.Radius), 1)
		p.RSIHigh = round(space.RSIHigh.around(rng, best.RSIHigh, space.Radius), 1)
		if p.RSIHigh <= p.RSILow {
			p.RSIHigh = p.RSILow + 1
		}
		p.VolumeMultiplier = round(space.VolumeMultiplier.around(rng, best.VolumeMultiplier, space.Radius), 2)
		p.EntryThreshold = round(space.EntryThreshold.around(rng, best.EntryThreshold, space.Radius), 1)
		p.ExitThreshold = round(space.ExitThreshold.around(rng, best.ExitThreshold, space.Radius), 1)
		p.StopLossPct = round(space.StopLossPct.around(rng, best.StopLossPct, space.Radius), 3)
		p.TakeProfitPct = round(space.TakeProfitPct.around(rng, best.TakeProfitPct, space.Radius), 3)

		out = append(out, models.StrategyConfig{
			Name:       fmt.Sprintf("v%d_%d", generation, i),
			Generation: generation,
			Params:     p,
		})
	}
	return out
}
