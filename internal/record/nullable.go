package record

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Float is a numeric attribute that may be missing. Invalid input never
// raises; it simply produces an invalid (null) value.
type Float struct {
	Value float64
	Valid bool
}

// NewFloat returns a valid Float
func NewFloat(v float64) Float {
	return Float{Value: v, Valid: true}
}

// ParseFloat coerces text to a Float; blanks and garbage become null
func ParseFloat(s string) Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return Float{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Float{}
	}
	return NewFloat(v)
}

// UnmarshalJSON accepts numbers, numeric strings and null
func (f *Float) UnmarshalJSON(b []byte) error {
	*f = floatFromJSON(b)
	return nil
}

// MarshalJSON writes null for missing values
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

func floatFromJSON(b []byte) Float {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return Float{}
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return Float{}
		}
		return ParseFloat(s)
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return Float{}
	}
	return NewFloat(v)
}

// Time is a timestamp that may be missing. Valid values are always UTC.
type Time struct {
	Value time.Time
	Valid bool
}

// NewTime returns a valid Time normalized to UTC
func NewTime(t time.Time) Time {
	return Time{Value: t.UTC(), Valid: true}
}

// layouts tried in order; zone-less layouts are read as UTC
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
}

// ParseTime coerces text to a UTC Time; blanks and garbage become null
func ParseTime(s string) Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTime(t)
		}
	}
	return Time{}
}

// Year returns the UTC calendar year; callers check Valid first
func (t Time) Year() int {
	return t.Value.Year()
}

// UnmarshalJSON accepts date strings and null
func (t *Time) UnmarshalJSON(b []byte) error {
	*t = timeFromJSON(b)
	return nil
}

// MarshalJSON writes RFC 3339 or null
func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value.Format(time.RFC3339))
}

func timeFromJSON(b []byte) Time {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return Time{}
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return Time{}
	}
	return ParseTime(s)
}

// DaysBetween returns the whole days from a to b, floored, so a gap of
// minus a day and a half counts as minus two days.
func DaysBetween(a, b time.Time) int {
	return int(math.Floor(b.Sub(a).Hours() / 24))
}
