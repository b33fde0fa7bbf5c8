// Package status publishes a read-only view of the controller: a JSON file
// rewritten on every status tick, plus an optional HTTP server.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"solana-momentum-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ActiveStrategy identifies the live configuration.
type ActiveStrategy struct {
	Name       string `json:"name"`
	Version    int    `json:"version"`
	Generation int    `json:"generation"`
}

// Record 是写入状态文件的完整内容
type Record struct {
	UpdatedAt        time.Time              `json:"updated_at"`
	Mode             string                 `json:"mode"`
	Regime           models.Regime          `json:"regime"`
	RegimeConfidence float64                `json:"regime_confidence"`
	WinRate          float64                `json:"win_rate"`
	ClosedTrades     int                    `json:"closed_trades"`
	OpenPositions    int                    `json:"open_positions"`
	MaxPositions     int                    `json:"max_positions"`
	Equity           float64                `json:"equity"`
	Cash             float64                `json:"cash"`
	Drawdown         float64                `json:"drawdown"`
	RealizedPnL      float64                `json:"realized_pnl"`
	ActiveStrategy   ActiveStrategy         `json:"active_strategy"`
	TopIndicators    []models.IndicatorRank `json:"top_indicators"`
	Positions        []models.Position      `json:"positions"`
	Halted           bool                   `json:"halted"`
}

// WriteFile atomically replaces path with the JSON encoding of rec.
func WriteFile(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Publisher keeps the latest record for readers and writes it to disk.
type Publisher struct {
	path   string
	latest atomic.Pointer[Record]
	logger *zap.Logger
}

// NewPublisher creates a publisher. An empty path disables the file.
func NewPublisher(path string, logger *zap.Logger) *Publisher {
	return &Publisher{path: path, logger: logger}
}

// Publish stores rec and rewrites the status file.
func (p *Publisher) Publish(rec Record) {
	p.latest.Store(&rec)
	if p.path == "" {
		return
	}
	if err := WriteFile(p.path, rec); err != nil {
		p.logger.Sugar().Warnf("Failed to write status file %s: %v", p.path, err)
	}
}

// Latest returns the last published record.
func (p *Publisher) Latest() (Record, bool) {
	rec := p.latest.Load()
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Handler serves /status, /metrics and /healthz.
func Handler(p *Publisher, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := p.Latest()
		if !ok {
			http.Error(w, "status not published yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := p.Latest(); ok && rec.Halted {
			http.Error(w, "halted", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Server is the optional status HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server on addr.
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Sugar().Infof("Status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Sugar().Errorf("Status server stopped: %v", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
