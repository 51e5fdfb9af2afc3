// Package severity defines the single ordering of finding severities used by
// summaries, badges, reports and recommendation prioritization.
package severity

import (
	"sort"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

// Order lists every severity level, most severe first.
var Order = []types.Severity{
	types.SeverityCritical,
	types.SeverityHigh,
	types.SeverityMedium,
	types.SeverityLow,
	types.SeverityInfo,
	types.SeverityGood,
}

// Rank returns the position of s in Order. Unknown severities rank after GOOD.
func Rank(s types.Severity) int {
	for i, level := range Order {
		if level == s {
			return i
		}
	}
	return len(Order)
}

// Compare returns -1 if a is more severe than b, +1 if less severe, 0 if equal.
func Compare(a, b types.Severity) int {
	ra, rb := Rank(a), Rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// Counts maps every severity level to the number of findings carrying it.
type Counts map[types.Severity]int

// Total is the number of findings across all six levels.
func (c Counts) Total() int {
	total := 0
	for _, level := range Order {
		total += c[level]
	}
	return total
}

// Vulnerabilities counts CRITICAL through LOW. INFO and GOOD are not vulnerabilities.
func (c Counts) Vulnerabilities() int {
	return c[types.SeverityCritical] + c[types.SeverityHigh] + c[types.SeverityMedium] + c[types.SeverityLow]
}

// ByName keys the counts by severity string, for logging and JSON output.
func (c Counts) ByName() map[string]int {
	out := make(map[string]int, len(c))
	for level, n := range c {
		out[string(level)] = n
	}
	return out
}

// CountBySeverity tallies findings across categories. The returned map always
// has an entry for each of the six levels; unrecognized severities are skipped.
func CountBySeverity(categories []types.ScanCategory) Counts {
	counts := make(Counts, len(Order))
	for _, level := range Order {
		counts[level] = 0
	}

	for _, category := range categories {
		for _, f := range category.Findings {
			if _, ok := counts[f.Severity]; ok {
				counts[f.Severity]++
			}
		}
	}

	return counts
}

// HighestSeverity returns the most severe level present in findings, or INFO
// when findings is empty.
func HighestSeverity(findings []types.Finding) types.Severity {
	for _, level := range Order {
		for _, f := range findings {
			if f.Severity == level {
				return level
			}
		}
	}
	return types.SeverityInfo
}

// SortFindings orders findings most severe first, keeping the backend's order
// within a level.
func SortFindings(findings []types.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return Rank(findings[i].Severity) < Rank(findings[j].Severity)
	})
}
