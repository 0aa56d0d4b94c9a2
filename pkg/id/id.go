package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

// orderNamespace scopes client order IDs so they never collide with other
// name-based UUIDs derived from the same inputs.
var orderNamespace = uuid.MustParse("6f1c2a1e-3b7d-5e8f-9a0b-7c4d2e1f6a35")

func init() {
	// Seed a PRNG from crypto/rand so ULID entropy is unpredictable.
	// We use ulid.Monotonic so IDs generated within the same millisecond remain
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string (time-sortable identifier).
//
// ULIDs are lexicographically sortable by generation time, which makes them
// ideal for journal records and exchange-side order IDs in the simulator.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Errors are extremely unlikely unless time goes backwards or entropy fails.
		panic(err)
	}
	return id.String()
}

// ClientOrderID derives the idempotency key for an order. The same
// (symbol, strategy, cycle) always yields the same key, across processes and
// restarts, so a resubmission is recognised by the exchange as a duplicate.
//
// The result is a 32 character hex string (a UUIDv5 without dashes), which
// fits the 36 character client order ID limit of common spot exchanges.
func ClientOrderID(symbol, strategy, cycleID string) string {
	name := strings.Join([]string{symbol, strategy, cycleID}, "|")
	u := uuid.NewSHA1(orderNamespace, []byte(name))
	return strings.ReplaceAll(u.String(), "-", "")
}
