package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewConnectionID returns the identifier handed to a freshly accepted
// connection. Lower case keeps ids URL and room-name friendly.
func NewConnectionID() string {
	return strings.ToLower(CreateULID())
}

// ConnectedAt extracts the accept time encoded in a connection id. The zero
// time is returned for ids not minted by NewConnectionID.
func ConnectedAt(connectionID string) time.Time {
	id, err := ulid.ParseStrict(strings.ToUpper(connectionID))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time())
}
