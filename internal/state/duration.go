package state

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders a duration for human display, choosing units by
// magnitude and omitting zero sub-units:
//
//	14s, 2m 14s, 3m, 1h 5m, 2h, 1d 3h, 2d
//
// Negative and sub-second durations render as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)

	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	switch {
	case days > 0:
		parts = append(parts, fmt.Sprintf("%dd", days))
		if hours > 0 {
			parts = append(parts, fmt.Sprintf("%dh", hours))
		}
	case hours > 0:
		parts = append(parts, fmt.Sprintf("%dh", hours))
		if minutes > 0 {
			parts = append(parts, fmt.Sprintf("%dm", minutes))
		}
	case minutes > 0:
		parts = append(parts, fmt.Sprintf("%dm", minutes))
		if seconds > 0 {
			parts = append(parts, fmt.Sprintf("%ds", seconds))
		}
	default:
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// FormatDurationMS is FormatDuration over a millisecond count.
func FormatDurationMS(ms int64) string {
	return FormatDuration(time.Duration(ms) * time.Millisecond)
}
