package model

import (
	"fmt"
	"time"
)

// DateLayout is the storage and wire format for date-only fields.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders a date-only value.
func FormatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

// Nights counts the nights between check-in and the exclusive check-out.
func Nights(checkIn, checkOut time.Time) int {
	return int(checkOut.Sub(checkIn).Hours() / 24)
}

// NightsBetween lists every occupied night of [checkIn, checkOut) as
// YYYY-MM-DD strings.
func NightsBetween(checkIn, checkOut time.Time) []string {
	var out []string
	for d := checkIn; d.Before(checkOut); d = d.AddDate(0, 0, 1) {
		out = append(out, FormatDate(d))
	}
	return out
}
