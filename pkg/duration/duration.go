// Package duration parses and formats human-readable durations.
// It accepts everything time.ParseDuration accepts plus day and week
// units, which show up in retention and guide-window settings:
//
//   - d, day, days: 24 hours
//   - w, wk, week, weeks: 7 days
//
// "36h", "3d", "1w2d" and "2 weeks" are all valid. Formatting is the
// inverse: the largest whole units first, zero components omitted.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// unitScale maps a normalized unit token to its duration. Tokens not
// listed here are passed through to time.ParseDuration.
var unitScale = map[string]time.Duration{
	"d":     Day,
	"day":   Day,
	"days":  Day,
	"w":     Week,
	"wk":    Week,
	"wks":   Week,
	"week":  Week,
	"weeks": Week,
}

// longUnits maps spelled-out standard units to their Go short form so
// "30 seconds" parses the same as "30s".
var longUnits = map[string]string{
	"hours": "h", "hour": "h", "hrs": "h", "hr": "h",
	"minutes": "m", "minute": "m", "mins": "m", "min": "m",
	"seconds": "s", "second": "s", "secs": "s", "sec": "s",
	"milliseconds": "ms", "millisecond": "ms",
	"microseconds": "us", "microsecond": "us",
	"nanoseconds": "ns", "nanosecond": "ns",
}

// isUnitByte reports whether b can appear in a unit token. Bytes
// outside ASCII are accepted so "µs" survives intact.
func isUnitByte(b byte) bool {
	return b >= 0x80 || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Parse parses a human-readable duration string.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var total time.Duration
	var std strings.Builder

	for i := 0; i < len(s); {
		// Skip separators between components.
		if s[i] == ' ' || s[i] == ',' {
			i++
			continue
		}

		// Number, including decimals.
		start := i
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("duration: invalid syntax at %q", s[start:])
		}
		num := s[start:i]

		// Optional whitespace, then the unit token.
		for i < len(s) && s[i] == ' ' {
			i++
		}
		start = i
		for i < len(s) && isUnitByte(s[i]) {
			i++
		}
		unit := strings.ToLower(s[start:i])
		if unit == "" {
			return 0, fmt.Errorf("duration: missing unit after %q", num)
		}

		if scale, ok := unitScale[unit]; ok {
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("duration: invalid number %q: %w", num, err)
			}
			total += time.Duration(n * float64(scale))
			continue
		}
		if short, ok := longUnits[unit]; ok {
			unit = short
		}
		std.WriteString(num)
		std.WriteString(unit)
	}

	if std.Len() > 0 {
		d, err := time.ParseDuration(std.String())
		if err != nil {
			return 0, fmt.Errorf("duration: %w", err)
		}
		total += d
	}

	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics on error. For constants only.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration with the largest whole units first,
// omitting zero components: 26h becomes "1d2h", 90s becomes "1m30s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	for _, u := range []struct {
		scale time.Duration
		name  string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
		{time.Microsecond, "µs"},
		{time.Nanosecond, "ns"},
	} {
		if n := d / u.scale; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.scale
		}
	}

	return b.String()
}
