package domain

import (
	"strings"
	"time"
)

// OverrideState classifies a stored busy override value.
type OverrideState int

const (
	OverrideAbsent OverrideState = iota
	OverrideValid
	OverrideUnparsable
)

// OverrideInstant is the parse result of a raw busy override value.
type OverrideInstant struct {
	State OverrideState
	At    time.Time
	Raw   string
}

var overrideLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseOverrideInstant parses a raw override value. Values without a zone
// offset are read in loc. An empty value is Absent, never Unparsable.
func ParseOverrideInstant(raw *string, loc *time.Location) OverrideInstant {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return OverrideInstant{State: OverrideAbsent}
	}
	if loc == nil {
		loc = time.UTC
	}

	value := strings.TrimSpace(*raw)
	for _, layout := range overrideLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return OverrideInstant{State: OverrideValid, At: t.UTC(), Raw: value}
		}
	}

	return OverrideInstant{State: OverrideUnparsable, Raw: value}
}

// FormatOverrideInstant renders an instant the way it is stored on a record.
func FormatOverrideInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
