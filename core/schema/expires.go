package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	relativePeriod     = regexp.MustCompile(RelativePeriodPattern)
	relativePeriodPart = regexp.MustCompile(`(\d+)\s*(ms|s|m|h|d|w|y)`)
)

var periodUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// ParsePeriod parses a relative period like "1d" or "2h30m"
func ParsePeriod(s string) (time.Duration, bool) {
	if !relativePeriod.MatchString(s) {
		return 0, false
	}
	var d time.Duration
	for _, m := range relativePeriodPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		d += time.Duration(n) * periodUnits[m[2]]
	}
	return d, true
}

// ResolveExpires turns an $expires value into an absolute point in time. Relative
// periods are added to now.
func ResolveExpires(value interface{}, now time.Time) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("$expires must be a string, got %T", value)
	}
	if d, ok := ParsePeriod(s); ok {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid $expires %q: %w", s, err)
	}
	return t, nil
}

// CheckExpires returns a validation error if value is an absolute timestamp which is not
// after now. path is the path of the $expires property.
func CheckExpires(value interface{}, now time.Time, path []interface{}) *ValidationError {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if _, ok := ParsePeriod(s); ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		e := NewValidationError(path, "format", `does not conform to the "date-time" format`, "date-time", value)
		return &e
	}
	if !t.After(now) {
		e := NewValidationError(path, "format", "has already passed", "date-time", value)
		return &e
	}
	return nil
}
