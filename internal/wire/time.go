package wire

import (
	"fmt"
	"time"
)

// isoLayout fixes millisecond precision so that ToRemoteTime/ToLocalTime
// are a bijection on whole-millisecond timestamps.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ToRemoteTime converts local epoch-milliseconds to the remote ISO-8601
// UTC representation.
func ToRemoteTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoLayout)
}

// ToLocalTime converts a remote ISO-8601 timestamp to epoch-milliseconds.
func ToLocalTime(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
