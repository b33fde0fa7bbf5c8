package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionID_Monotonic(t *testing.T) {
	prev := PositionID()
	for i := 0; i < 1000; i++ {
		next := PositionID()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("01HX", "BUY", 0)
	assert.Equal(t, a, IdempotencyKey("01HX", "BUY", 0), "same intent must reuse the key")
	assert.NotEqual(t, a, IdempotencyKey("01HX", "SELL", 0))
	assert.NotEqual(t, a, IdempotencyKey("01HX", "BUY", 1))
	assert.NotEmpty(t, a)
}

func TestRunID(t *testing.T) {
	_, err := uuid.Parse(RunID())
	assert.NoError(t, err)
}
