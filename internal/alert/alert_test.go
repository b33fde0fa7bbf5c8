package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	block  chan struct{}
	err    error
}

func (s *recordingSink) Send(ctx context.Context, a Alert) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Kind
	for _, a := range s.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestDispatcher_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(8, time.Second, zap.NewNop(), sink)
	d.Start()

	d.Notify(KindStartup, "up")
	d.Notify(KindPositionOpened, "BONK")
	d.Notify(KindPositionClosed, "BONK")
	d.Close()

	assert.Equal(t, []Kind{KindStartup, KindPositionOpened, KindPositionClosed}, sink.kinds())

	// after close nothing is accepted
	d.Notify(KindHeartbeat, "late")
	assert.Equal(t, int64(1), d.Dropped())
}

func TestDispatcher_NeverBlocksWhenSinkIsStuck(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(2, time.Minute, zap.NewNop(), sink)
	d.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Notify(KindHeartbeat, "tick")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a stuck sink")
	}
	assert.Greater(t, d.Dropped(), int64(40))

	close(sink.block)
	d.Close()
}

func TestDispatcher_SinkErrorsAreSwallowed(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	d := NewDispatcher(4, time.Second, zap.NewNop(), failing, ok)
	d.Start()

	d.Notify(KindFatal, "ledger halted")
	d.Close()

	assert.Equal(t, []Kind{KindFatal}, ok.kinds())
}

func TestTelegramSink(t *testing.T) {
	var got map[string]string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewTelegramSink(server.URL+"/", "123:abc", "42")
	err := sink.Send(context.Background(), Alert{Kind: KindLiquidation, Message: "BONK liquidated"})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "[LIQUIDATION] BONK liquidated", got["text"])
}

func TestTelegramSink_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := NewTelegramSink(server.URL, "secret-token", "42").Send(context.Background(), Alert{Kind: KindStartup})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	server.Close()
	err = NewTelegramSink(server.URL, "secret-token", "42").Send(context.Background(), Alert{Kind: KindStartup})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}
