package phase

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Evaluator reports tag findings either as "Severity: High" fields or as
// bracketed "[HIGH]" prefixes; both count.
var severityPattern = regexp.MustCompile(`(?im)(?:severity\s*[:*]+\s*|\[)(critical|high|medium|low)\b`)

// SeverityCounts holds the deterministic finding counts for one evaluator.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the finding count across all severities.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// CountSeverities extracts finding counts from a raw evaluator report.
func CountSeverities(report string) SeverityCounts {
	var counts SeverityCounts
	for _, m := range severityPattern.FindAllStringSubmatch(report, -1) {
		switch strings.ToLower(m[1]) {
		case "critical":
			counts.Critical++
		case "high":
			counts.High++
		case "medium":
			counts.Medium++
		case "low":
			counts.Low++
		}
	}
	return counts
}

// AggregateStats summarizes total findings across evaluators.
type AggregateStats struct {
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Avg   float64 `json:"avg"`
	Stdev float64 `json:"stdev"`
}

// Aggregate computes min/max/avg/stdev over per-evaluator totals.
func Aggregate(byEvaluator map[string]SeverityCounts) AggregateStats {
	if len(byEvaluator) == 0 {
		return AggregateStats{}
	}
	totals := make([]int, 0, len(byEvaluator))
	sum := 0
	for _, c := range byEvaluator {
		totals = append(totals, c.Total())
		sum += c.Total()
	}
	stats := AggregateStats{Min: totals[0], Max: totals[0]}
	for _, t := range totals[1:] {
		if t < stats.Min {
			stats.Min = t
		}
		if t > stats.Max {
			stats.Max = t
		}
	}
	stats.Avg = float64(sum) / float64(len(totals))
	var variance float64
	for _, t := range totals {
		d := float64(t) - stats.Avg
		variance += d * d
	}
	stats.Stdev = math.Sqrt(variance / float64(len(totals)))
	return stats
}

// MetricsHeader renders the deterministic metrics as a Markdown table for
// prepending to synthesis reports.
func MetricsHeader(byEvaluator map[string]SeverityCounts) string {
	if len(byEvaluator) == 0 {
		return ""
	}
	evaluators := make([]string, 0, len(byEvaluator))
	for name := range byEvaluator {
		evaluators = append(evaluators, name)
	}
	sort.Strings(evaluators)

	var b strings.Builder
	b.WriteString("## Review Metrics\n\n")
	b.WriteString("| Evaluator | Critical | High | Medium | Low | Total |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, name := range evaluators {
		c := byEvaluator[name]
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d |\n",
			name, c.Critical, c.High, c.Medium, c.Low, c.Total())
	}
	stats := Aggregate(byEvaluator)
	fmt.Fprintf(&b, "\nFindings per evaluator: min %d, max %d, avg %.1f, stdev %.1f\n",
		stats.Min, stats.Max, stats.Avg, stats.Stdev)
	return b.String()
}

// Marker lines delimiting the structured block a synthesis prompt asks the
// model to emit. The block between them must be a single JSON object.
const (
	MetricsStartMarker = "===METRICS_START==="
	MetricsEndMarker   = "===METRICS_END==="
)

// ExtractMarkerJSON pulls the marker-delimited JSON object out of provider
// output. Returns false when the markers are absent or the block is not
// valid JSON; metrics are enrichment, callers warn and carry on.
func ExtractMarkerJSON(output string) (map[string]any, bool) {
	start := strings.Index(output, MetricsStartMarker)
	if start < 0 {
		return nil, false
	}
	rest := output[start+len(MetricsStartMarker):]
	end := strings.Index(rest, MetricsEndMarker)
	if end < 0 {
		return nil, false
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// extractMarkerBlock returns the text between a start and end marker pair,
// trimmed. Used for the retrospective report body.
func extractMarkerBlock(output, startMarker, endMarker string) (string, bool) {
	start := strings.Index(output, startMarker)
	if start < 0 {
		return "", false
	}
	rest := output[start+len(startMarker):]
	end := strings.Index(rest, endMarker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
