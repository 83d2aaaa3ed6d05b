package timestamp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnrecognized is returned when a value matches none of the accepted layouts.
var ErrUnrecognized = errors.New("timestamp: unrecognized format")

// zoned layouts carry their own offset.
var zoned = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

// naive layouts have no offset and are interpreted as UTC.
var naive = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse reads an ISO 8601 style date or datetime. Values without an offset
// are taken as UTC. The result is always normalized to UTC.
func Parse(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnrecognized)
	}
	for _, layout := range zoned {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naive {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, value)
}
