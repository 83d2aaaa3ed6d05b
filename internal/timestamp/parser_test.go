package timestamp

import (
	"errors"
	"testing"
	"time"
)

func TestParse_AcceptedLayouts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC3339", "2024-01-15T10:30:45Z", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"RFC3339Nano", "2024-01-15T10:30:45.123456789Z", time.Date(2024, 1, 15, 10, 30, 45, 123456789, time.UTC)},
		{"RFC3339 offset", "2024-01-15T10:30:45+05:00", time.Date(2024, 1, 15, 5, 30, 45, 0, time.UTC)},
		{"naive T", "2024-01-15T10:30:45", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"naive millis", "2024-01-15T10:30:45.123", time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)},
		{"space separated", "2024-01-15 10:30:45", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"space offset", "2024-01-15 10:30:45+00:00", time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)},
		{"date only", "2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"surrounding space", "  2024-01-15  ", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Fatalf("Parse(%q) location = %s, want UTC", tt.input, got.Location())
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, input := range []string{"", "   ", "yesterday", "15/01/2024", "2024-13-01"} {
		if _, err := Parse(input); !errors.Is(err, ErrUnrecognized) {
			t.Errorf("Parse(%q) err = %v, want ErrUnrecognized", input, err)
		}
	}
}
