// Package alert delivers operator notifications without ever blocking the
// trading path.
package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind 告警类型
type Kind string

const (
	KindStartup        Kind = "startup"
	KindPositionOpened Kind = "position-opened"
	KindPositionClosed Kind = "position-closed"
	KindLiquidation    Kind = "liquidation"
	KindPortfolioStop  Kind = "portfolio-stop"
	KindPromotion      Kind = "promotion"
	KindRollback       Kind = "rollback"
	KindRegimeShift    Kind = "regime-shift"
	KindFatal          Kind = "fatal"
	KindHeartbeat      Kind = "heartbeat"
	KindShutdown       Kind = "shutdown"
)

// Alert is one notification.
type Alert struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Sink delivers alerts somewhere.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// Notifier is what the rest of the controller talks to.
type Notifier interface {
	Notify(kind Kind, message string)
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(Kind, string) {}

// Dispatcher queues alerts and sends them from a single goroutine.
// When the queue is full the alert is dropped.
type Dispatcher struct {
	sinks       []Sink
	queue       chan Alert
	sendTimeout time.Duration
	logger      *zap.Logger

	dropped   atomic.Int64
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher. Call Start before Notify.
func NewDispatcher(bufferSize int, sendTimeout time.Duration, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Dispatcher{
		sinks:       sinks,
		queue:       make(chan Alert, bufferSize),
		sendTimeout: sendTimeout,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Notify enqueues an alert and returns immediately.
func (d *Dispatcher) Notify(kind Kind, message string) {
	a := Alert{Kind: kind, Message: message, Time: time.Now().UTC()}
	select {
	case <-d.stopChan:
		d.dropped.Add(1)
		return
	default:
	}
	select {
	case d.queue <- a:
	default:
		d.dropped.Add(1)
		d.logger.Sugar().Warnf("Alert queue full, dropped %s alert.", kind)
	}
}

// Dropped returns how many alerts were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting alerts, delivers what is queued and waits.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case a := <-d.queue:
			d.deliver(a)
		case <-d.stopChan:
			// drain
			for {
				select {
				case a := <-d.queue:
					d.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(a Alert) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := s.Send(ctx, a); err != nil {
			d.logger.Sugar().Warnf("Failed to deliver %s alert: %v", a.Kind, err)
		}
		cancel()
	}
}

// LogSink writes alerts to the log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(_ context.Context, a Alert) error {
	s.Logger.Sugar().Infof("[ALERT %s] %s", a.Kind, a.Message)
	return nil
}
