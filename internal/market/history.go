package market

import (
	"sync"

	"solana-momentum-bot-go/internal/models"
)

// History is a fixed-capacity ring buffer of samples for one token.
type History struct {
	mu    sync.RWMutex
	buf   []models.Candle
	start int
	size  int
}

// NewHistory creates a ring buffer holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]models.Candle, capacity)}
}

// Append adds a sample, overwriting the oldest one when full. A sample that
// is not newer than the last one is dropped and Append returns false.
func (h *History) Append(c models.Candle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size > 0 && !c.Time.After(h.buf[(h.start+h.size-1)%len(h.buf)].Time) {
		return false
	}
	idx := (h.start + h.size) % len(h.buf)
	h.buf[idx] = c
	if h.size < len(h.buf) {
		h.size++
		return true
	}
	h.start = (h.start + 1) % len(h.buf)
	return true
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Window returns a copy of the latest n samples, oldest first.
// n <= 0 or n larger than the stored size returns everything.
func (h *History) Window(n int) []models.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]models.Candle, n)
	first := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+first+i)%len(h.buf)]
	}
	return out
}

// Last returns the newest sample.
func (h *History) Last() (models.Candle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return models.Candle{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}
