// Package id provides ID generation for worker hosts and poll requests.
//
// Host IDs are ULIDs with a "host" prefix so they sort by spawn time and
// read well in logs. Request IDs are UUIDv4 values sent as X-Request-ID.
package id

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// HostID identifies a worker host and its isolated context
type HostID string

// RequestID identifies a single poll request
type RequestID string

const HostPrefix = "host"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewHostID returns a host ID. IDs from one process sort in spawn order,
// including hosts spawned within the same millisecond.
func NewHostID() HostID {
	return hostIDAt(time.Now())
}

func hostIDAt(t time.Time) HostID {
	entropyMu.Lock()
	u := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyMu.Unlock()
	return HostID(HostPrefix + "_" + u.String())
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

func (id HostID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// Timestamp extracts the spawn time from a host ID
func (id HostID) Timestamp() (time.Time, error) {
	raw, ok := strings.CutPrefix(string(id), HostPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid host id %q: missing %s prefix", id, HostPrefix)
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid host id %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}

// IsValidRequestID reports whether s parses as a UUID
func IsValidRequestID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
