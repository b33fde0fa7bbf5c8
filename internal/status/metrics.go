package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "momentum_bot"

// Metrics holds all Prometheus metrics for the controller.
type Metrics struct {
	// Scheduler metrics
	Cycles        *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	TokenFailures *prometheus.CounterVec

	// Risk metrics
	EntryDecisions *prometheus.CounterVec
	Liquidations   *prometheus.CounterVec

	// Execution metrics
	Fills         *prometheus.CounterVec
	FillFailures  *prometheus.CounterVec
	SubmitLatency prometheus.Histogram

	// Portfolio metrics
	Equity        prometheus.Gauge
	Drawdown      prometheus.Gauge
	OpenPositions prometheus.Gauge
	Halted        prometheus.Gauge

	// Evolution metrics
	Promotions    prometheus.Counter
	Rollbacks     prometheus.Counter
	ActiveVersion prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of scheduler cycles by loop and outcome",
		}, []string{"loop", "outcome"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Scheduler cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		TokenFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "token_failures_total",
			Help:      "Per-token evaluation failures by kind",
		}, []string{"kind"}),

		EntryDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "entry_decisions_total",
			Help:      "Entry approvals and denials by violation code",
		}, []string{"outcome"}),
		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "liquidations_total",
			Help:      "Forced liquidations requested by reason",
		}, []string{"reason"}),

		Fills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "fills_total",
			Help:      "Confirmed fills by side",
		}, []string{"side"}),
		FillFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "fill_failures_total",
			Help:      "Failed submissions by side and error kind",
		}, []string{"side", "kind"}),
		SubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "submit_latency_seconds",
			Help:      "Gateway submission latency including retries",
			Buckets:   prometheus.DefBuckets,
		}),

		Equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "equity_usd",
			Help:      "Marked portfolio equity in USD",
		}),
		Drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "drawdown_ratio",
			Help:      "Drawdown from peak equity",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Number of active positions",
		}),
		Halted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "halted",
			Help:      "1 when the ledger refused to continue",
		}),

		Promotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "promotions_total",
			Help:      "Total number of strategy promotions",
		}),
		Rollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "rollbacks_total",
			Help:      "Total number of strategy rollbacks",
		}),
		ActiveVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "active_strategy_version",
			Help:      "Version of the live strategy configuration",
		}),
	}
}

// ObservePortfolio updates the portfolio gauges.
func (m *Metrics) ObservePortfolio(equity, drawdown float64, open int) {
	m.Equity.Set(equity)
	m.Drawdown.Set(drawdown)
	m.OpenPositions.Set(float64(open))
}
