// Package timecode converts between HH:MM:SS style timestamps and seconds.
package timecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse reports a timestamp that is not SS, MM:SS or HH:MM:SS.
var ErrParse = errors.New("invalid timecode")

// Parse converts "SS", "MM:SS" or "HH:MM:SS" into seconds.
func Parse(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 1 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrParse, s)
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrParse, s)
		}
		total = total*60 + n
	}
	return float64(total), nil
}

// Format renders seconds as zero-padded "HH:MM:SS", truncating fractions.
func Format(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

// Normalize promotes the shorthand "MM:SS" to canonical "00:MM:SS".
// Other shapes pass through trimmed.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		return "00:" + s
	}
	return s
}
