// ABOUTME: Modification timestamp that can be explicitly unknown
// ABOUTME: Persists as NULL so an unknown value is never confused with the epoch
package catalog

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MTime is a modification time. The zero value is unknown.
type MTime struct {
	t     time.Time
	known bool
}

// UnknownMTime is used for resources whose modification time cannot be
// determined, such as remote streams.
var UnknownMTime = MTime{}

// KnownMTime wraps t, truncated to whole seconds like filesystem listings.
func KnownMTime(t time.Time) MTime {
	return MTime{t: t.Truncate(time.Second).UTC(), known: true}
}

func (m MTime) IsKnown() bool { return m.known }

// Time returns the timestamp and whether it is known.
func (m MTime) Time() (time.Time, bool) {
	return m.t, m.known
}

// Equal reports whether both are unknown or both name the same instant.
func (m MTime) Equal(o MTime) bool {
	if m.known != o.known {
		return false
	}
	return !m.known || m.t.Equal(o.t)
}

func (m MTime) String() string {
	if !m.known {
		return "unknown"
	}
	return m.t.Format(time.RFC3339)
}

// Value stores the time as unix seconds, or NULL when unknown.
func (m MTime) Value() (driver.Value, error) {
	if !m.known {
		return nil, nil
	}
	return m.t.Unix(), nil
}

// Scan reads a value written by Value.
func (m *MTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = UnknownMTime
	case int64:
		*m = KnownMTime(time.Unix(v, 0))
	default:
		return fmt.Errorf("catalog: cannot scan %T into MTime", src)
	}
	return nil
}
