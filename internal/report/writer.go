// Package report renders a finished scan for people and for other tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/severity"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", s)
	}
}

// Document is the machine-readable report: the raw result plus derived views.
type Document struct {
	Result          *types.ScanResult `json:"result" yaml:"result"`
	Summary         Summary           `json:"summary" yaml:"summary"`
	Recommendations []Recommendation  `json:"recommendations" yaml:"recommendations"`
}

func NewDocument(result *types.ScanResult) Document {
	return Document{
		Result:          result,
		Summary:         Summarize(result),
		Recommendations: Recommendations(result),
	}
}

func Write(w io.Writer, result *types.ScanResult, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDocument(result))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewDocument(result)); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTable, "":
		return writeTable(w, result)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeTable(w io.Writer, result *types.ScanResult) error {
	s := Summarize(result)

	bold := color.New(color.Bold)
	bold.Fprintf(w, "Scan report for %s\n", s.Target)
	fmt.Fprintf(w, "Mode: %s   Time: %s\n", s.ScanMode, s.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if s.ResolvedIP != "" {
		fmt.Fprintf(w, "IP address: %s\n", s.ResolvedIP)
	}
	fmt.Fprintf(w, "Total findings: %d across %d test categories\n", s.TotalFindings, len(s.Categories))

	var parts []string
	for _, level := range severity.Order {
		parts = append(parts, fmt.Sprintf("%s %d", ColorSeverity(level), s.Counts[string(level)]))
	}
	fmt.Fprintf(w, "%s\n\n", strings.Join(parts, "  "))

	table := tablewriter.NewWriter(w)
	table.Header("Category", "Severity", "Type", "Detail")
	for _, cat := range result.Categories {
		findings := make([]types.Finding, len(cat.Findings))
		copy(findings, cat.Findings)
		severity.SortFindings(findings)
		for _, f := range findings {
			if err := table.Append([]string{cat.Label, string(f.Severity), f.Type, detail(f)}); err != nil {
				return fmt.Errorf("failed to build findings table: %w", err)
			}
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render findings table: %w", err)
	}

	recs := Recommendations(result)
	if len(recs) == 0 {
		return nil
	}
	bold.Fprintln(w, "\nRecommendations")
	for i, r := range recs {
		fmt.Fprintf(w, "%2d. [%s] %s\n", i+1, ColorSeverity(r.Severity), r.Text)
	}
	return nil
}

// detail picks the most useful secondary field of a finding for one table cell.
func detail(f types.Finding) string {
	for _, v := range []string{f.Message, f.Location, f.Payload, f.Value, f.Evidence} {
		if v != "" {
			return truncate(v, 80)
		}
	}
	if f.Port != 0 {
		return fmt.Sprintf("port %d %s", f.Port, f.Service)
	}
	return "-"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// ColorSeverity renders a severity with its terminal color.
func ColorSeverity(sev types.Severity) string {
	switch sev {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	case types.SeverityInfo:
		return color.New(color.FgWhite).Sprint("INFO")
	case types.SeverityGood:
		return color.New(color.FgGreen).Sprint("GOOD")
	default:
		return string(sev)
	}
}
