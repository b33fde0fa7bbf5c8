package models

import "time"

// Candle is one sample of a token's price/volume/liquidity history.
// Live samples have Open == High == Low == Close.
type Candle struct {
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Liquidity float64   `json:"liquidity"`
}

// MarketSnapshot is what a PriceFeed returns for a token.
type MarketSnapshot struct {
	Token     string    `json:"token"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Liquidity float64   `json:"liquidity"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle converts a snapshot into a flat history sample.
func (s MarketSnapshot) Candle() Candle {
	return Candle{
		Time:      s.Timestamp,
		Open:      s.Price,
		High:      s.Price,
		Low:       s.Price,
		Close:     s.Price,
		Volume:    s.Volume,
		Liquidity: s.Liquidity,
	}
}

// Regime is a coarse market classification.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending-up"
	RegimeTrendingDown Regime = "trending-down"
	RegimeChoppy       Regime = "choppy"
	RegimeUnknown      Regime = "unknown"
)

// FavorsLongs reports whether new long entries are allowed under this regime.
// Unknown blocks entries until enough history exists to classify the market.
func (r Regime) FavorsLongs() bool {
	return r == RegimeTrendingUp || r == RegimeChoppy
}

// RegimeState is the output of the regime detector.
type RegimeState struct {
	Regime     Regime    `json:"regime"`
	Confidence float64   `json:"confidence"`
	Trend      float64   `json:"trend"`
	Volatility float64   `json:"volatility"`
	Momentum   float64   `json:"momentum"`
	Volume     float64   `json:"volume"`
	Tokens     int       `json:"tokens"` // number of series that contributed
	UpdatedAt  time.Time `json:"updated_at"`
}

// Decision is the action a Signal recommends.
type Decision string

const (
	DecisionEnterLong Decision = "enter-long"
	DecisionHold      Decision = "hold"
	DecisionExit      Decision = "exit"
)

// Exit reasons recorded on signals, positions and trades.
const (
	ReasonStopLoss    = "stop-loss"
	ReasonTakeProfit  = "take-profit"
	ReasonScore       = "score"
	ReasonHardStop    = "hard-stop"
	ReasonPortfolio   = "portfolio-stop"
	ReasonEscalation  = "exit-escalation"
	ReasonEmergency   = "emergency-timeout"
	ReasonEndOfSample = "end-of-sample"
)

// Signal is an immutable evaluation result for one token at one point in time.
type Signal struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Score     float64   `json:"score"`
	Regime    Regime    `json:"regime"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
}
