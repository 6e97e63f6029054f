// Package bytesize parses and formats human-readable byte sizes using
// binary (1024) multiples. "64KB", "1.5 GB", "8MiB" and a bare "4096"
// are all accepted; formatting picks the largest unit with a value ≥ 1.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
	PB Size = 1 << 50
)

// units maps a lowercase suffix to its multiplier. Both the loose
// forms (kb, mb) and explicit binary forms (kib, mib) resolve to
// binary multiples.
var units = map[string]Size{
	"":  B,
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
	"p": PB, "pb": PB, "pib": PB,
}

// Parse parses a size string. A missing unit means bytes.
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split the numeric prefix from the unit suffix.
	cut := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			cut = i
			break
		}
	}
	numStr := strings.TrimSpace(s[:cut])
	unitStr := strings.ToLower(strings.TrimSpace(s[cut:]))

	if numStr == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	mult, ok := units[unitStr]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unitStr)
	}

	// Integer fast path keeps exact values for plain byte counts.
	if n, err := strconv.ParseInt(numStr, 10, 64); err == nil {
		return Size(n) * mult, nil
	}

	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", numStr, err)
	}
	return Size(f * float64(mult)), nil
}

// MustParse is like Parse but panics on error. For constants only.
func MustParse(s string) Size {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders a size with the largest unit whose value is ≥ 1.
func Format(s Size) string {
	neg := ""
	if s < 0 {
		neg, s = "-", -s
	}

	switch {
	case s >= PB:
		return neg + trimmed(float64(s)/float64(PB)) + "PB"
	case s >= TB:
		return neg + trimmed(float64(s)/float64(TB)) + "TB"
	case s >= GB:
		return neg + trimmed(float64(s)/float64(GB)) + "GB"
	case s >= MB:
		return neg + trimmed(float64(s)/float64(MB)) + "MB"
	case s >= KB:
		return neg + trimmed(float64(s)/float64(KB)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", neg, int64(s))
	}
}

// trimmed formats v with up to two decimals, dropping trailing zeros.
func trimmed(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}

// Bytes returns the size as an int64 byte count.
func (s Size) Bytes() int64 { return int64(s) }

// String implements fmt.Stringer.
func (s Size) String() string { return Format(s) }
