package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the envelope stored for every cached value.
type Entry struct {
	// Payload is the JSON-encoded value.
	Payload json.RawMessage `json:"payload"`

	// CachedAt is when the value was written.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the value stops being fresh. It may still be served as
	// a stale fallback until Redis evicts it.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// decode unmarshals the payload into dst. A nil dst is a no-op.
func (e *Entry) decode(dst any) error {
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
