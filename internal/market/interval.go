package market

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "15m", "1h", "4h", "1d", "1w", "3mo", "1y" into a duration.
// Months are 30 days and years 365. Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1:]
	numStr := interval[:len(interval)-1]
	switch {
	case strings.HasSuffix(interval, "mo"):
		unit, numStr = "mo", interval[:len(interval)-2]
	case strings.HasSuffix(interval, "wk"):
		unit, numStr = "w", interval[:len(interval)-2]
	}
	n, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil || n <= 0 {
		return 0, false
	}
	day := 24 * time.Hour
	switch unit {
	case "m":
		return time.Duration(n) * time.Minute, true
	case "h":
		return time.Duration(n) * time.Hour, true
	case "d":
		return time.Duration(n) * day, true
	case "w":
		return time.Duration(n) * 7 * day, true
	case "mo":
		return time.Duration(n) * 30 * day, true
	case "y":
		return time.Duration(n) * 365 * day, true
	default:
		return 0, false
	}
}

// Intraday reports whether a granularity is shorter than one day.
// Unknown granularities are treated as daily.
func Intraday(granularity string) bool {
	d, ok := ParseIntervalDuration(granularity)
	return ok && d < 24*time.Hour
}

// BarsFor estimates how many bars of granularity fit in period, capped at limit.
func BarsFor(period, granularity string, limit int) int {
	p, okP := ParseIntervalDuration(period)
	g, okG := ParseIntervalDuration(granularity)
	if !okP || !okG || g <= 0 {
		return limit
	}
	n := int(p / g)
	if n <= 0 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}
