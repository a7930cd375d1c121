// Package util contains misc internal utilities.
package util

import "time"

// AllElementsNumbers returns true if every character in the string is a
// digit or a decimal point.
func AllElementsNumbers(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return len(s) > 0
}

// Clamp restricts x to the range [low, high].
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for
// hundredth, and so on).
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// SecsToDuration converts a floating point number of seconds to a Duration.
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
