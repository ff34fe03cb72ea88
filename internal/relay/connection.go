package relay

import "github.com/google/uuid"

// NewConnID mints a fresh opaque connection handle. Using a random UUID
// rather than an incrementing counter means a handle is never reused
// across a process restart or a counter wraparound, so a stale reference
// held by a slow goroutine can never alias a different, later connection.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}
