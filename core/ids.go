package core

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// ParseSnowflake validates and parses a Discord snowflake ID given as text.
// Snowflakes are positive, non-zero unsigned 64-bit integers; anything else
// is rejected before any cache is consulted.
func ParseSnowflake(value string) (uint64, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", value, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid snowflake %q: must be non-zero", value)
	}
	return id, nil
}

// IsValidSnowflake reports whether the given string is a well-formed
// non-zero snowflake ID.
func IsValidSnowflake(value string) bool {
	_, err := ParseSnowflake(value)
	return err == nil
}

// NewSessionID generates a replay session ID.
// The format is: sess_ULID
// Example: NewSessionID() returns "sess_01G0EZ1XTM37C5X11SQTDNCTM1"
func NewSessionID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)

	return "sess_" + id.String()
}
