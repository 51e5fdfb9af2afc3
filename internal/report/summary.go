package report

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/severity"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

type CategorySummary struct {
	Key      string         `json:"key" yaml:"key"`
	Label    string         `json:"label" yaml:"label"`
	Findings int            `json:"findings" yaml:"findings"`
	Highest  types.Severity `json:"highest_severity" yaml:"highest_severity"`
}

type Summary struct {
	Target          string            `json:"target" yaml:"target"`
	ResolvedIP      string            `json:"resolved_ip,omitempty" yaml:"resolved_ip,omitempty"`
	ScanMode        types.ScanMode    `json:"scan_mode" yaml:"scan_mode"`
	Timestamp       time.Time         `json:"timestamp" yaml:"timestamp"`
	TotalFindings   int               `json:"total_findings" yaml:"total_findings"`
	Vulnerabilities int               `json:"total_vulnerabilities" yaml:"total_vulnerabilities"`
	Counts          map[string]int    `json:"counts" yaml:"counts"`
	Categories      []CategorySummary `json:"categories" yaml:"categories"`
}

func Summarize(result *types.ScanResult) Summary {
	counts := severity.CountBySeverity(result.Categories)

	cats := make([]CategorySummary, 0, len(result.Categories))
	for _, c := range result.Categories {
		cats = append(cats, CategorySummary{
			Key:      c.Key,
			Label:    c.Label,
			Findings: len(c.Findings),
			Highest:  severity.HighestSeverity(c.Findings),
		})
	}

	return Summary{
		Target:          result.Target,
		ResolvedIP:      result.ResolvedIP,
		ScanMode:        result.ScanMode,
		Timestamp:       result.Timestamp,
		TotalFindings:   counts.Total(),
		Vulnerabilities: counts.Vulnerabilities(),
		Counts:          counts.ByName(),
		Categories:      cats,
	}
}
