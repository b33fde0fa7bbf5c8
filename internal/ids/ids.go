// Package ids generates the identifiers used across the controller.
package ids

import (
	cryptoRand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// PositionID returns a new time-sortable position id. A token's later positions
// always sort after its earlier ones.
func PositionID() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// IdempotencyKey derives the key sent with every submission for an order intent.
// Retries of the same intent reuse the key; a new intent (new attempt number)
// gets a new one.
func IdempotencyKey(positionID, side string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", positionID, side, attempt)))
	return base62.EncodeToString(sum[:16])
}

// RunID identifies one evolution cycle.
func RunID() string {
	return uuid.NewString()
}
