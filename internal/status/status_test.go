package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleRecord() Record {
	return Record{
		UpdatedAt:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Mode:           "paper",
		Regime:         models.RegimeTrendingUp,
		WinRate:        0.625,
		ClosedTrades:   8,
		OpenPositions:  2,
		MaxPositions:   3,
		Equity:         312.5,
		ActiveStrategy: ActiveStrategy{Name: "v4_2", Version: 3, Generation: 4},
		TopIndicators:  []models.IndicatorRank{{Rank: 1, Name: "rsi_focus", WinRate: 0.7}},
	}
}

func TestWriteFile_ReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.json")

	require.NoError(t, WriteFile(path, Record{Mode: "paper"}))
	require.NoError(t, WriteFile(path, sampleRecord()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleRecord(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.ObservePortfolio(312.5, 0.02, 2)
	metrics.Promotions.Inc()

	pub := NewPublisher("", zap.NewNop())
	server := httptest.NewServer(Handler(pub, reg))
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	pub.Publish(sampleRecord())

	resp, err = http.Get(server.URL + "/status")
	require.NoError(t, err)
	var got Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "v4_2", got.ActiveStrategy.Name)
	assert.Equal(t, 0.625, got.WinRate)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "momentum_bot_portfolio_equity_usd 312.5")
	assert.Contains(t, string(body), "momentum_bot_evolution_promotions_total 1")

	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	halted := sampleRecord()
	halted.Halted = true
	pub.Publish(halted)
	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetrics_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.EntryDecisions.WithLabelValues("approved").Inc()
	metrics.EntryDecisions.WithLabelValues("max_positions").Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "momentum_bot_risk_entry_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"approved": 1, "max_positions": 2}, got)
}
