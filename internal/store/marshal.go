package store

import (
	"fmt"
	"time"
)

// formatTime converts a virtual timestamp to TEXT for storage.
// Times are stored in UTC, RFC 3339 with trailing zeros trimmed, matching
// canonical JSON.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored timestamp back into UTC.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
