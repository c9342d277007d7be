package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. Sessions, vote receipts
// and notifications all take their ids from here so that the strings stay
// usable as foreign keys across stores.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates an identifier for the given timestamp. Exposed for tests
// that need reproducible ordering.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
