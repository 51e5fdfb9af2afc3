package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/severity"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

type Recommendation struct {
	Severity types.Severity `json:"severity" yaml:"severity"`
	Text     string         `json:"text" yaml:"text"`
}

// remediation rules are checked in order against the finding type.
var remediation = []struct {
	match func(findingType string) bool
	text  func(findingType string) string
}{
	{containsAll("SQL Injection"), fixed("Implement parameterized queries and input validation to prevent SQL injection")},
	{containsAll("XSS"), fixed("Sanitize and encode all user input before rendering in the browser")},
	{containsAll("Missing", "Header"), func(t string) string {
		return fmt.Sprintf("Add the %s security header", strings.Replace(t, "Missing ", "", 1))
	}},
	{containsAll("CORS"), fixed("Restrict CORS origins to trusted domains only")},
	{containsAll("Cookie"), fixed("Set Secure, HttpOnly, and SameSite attributes on all cookies")},
	{containsAll("Directory Listing"), fixed("Disable directory listing on the web server")},
	{containsAny("Backup", "Sensitive File"), fixed("Remove or restrict access to exposed sensitive files")},
	{containsAll("CSRF"), fixed("Implement anti-CSRF tokens in all state-changing forms")},
	{containsAny("SSL", "HTTPS"), fixed("Enable HTTPS with a valid TLS 1.2+ certificate")},
	{containsAll("Port"), fixed("Close unnecessary open ports and restrict access to essential services only")},
	{func(t string) bool {
		return strings.Contains(t, "TRACE") || (strings.Contains(t, "HTTP") && strings.Contains(t, "Enabled"))
	}, fixed("Disable dangerous HTTP methods (TRACE, TRACK) on the web server")},
}

func containsAll(parts ...string) func(string) bool {
	return func(s string) bool {
		for _, p := range parts {
			if !strings.Contains(s, p) {
				return false
			}
		}
		return true
	}
}

func containsAny(parts ...string) func(string) bool {
	return func(s string) bool {
		for _, p := range parts {
			if strings.Contains(s, p) {
				return true
			}
		}
		return false
	}
}

func fixed(text string) func(string) string {
	return func(string) string { return text }
}

// RecommendationFor returns the remediation line for f: its own recommendation
// when present, otherwise one derived from the finding type.
func RecommendationFor(f types.Finding) string {
	if f.Recommendation != "" {
		return f.Recommendation
	}
	for _, rule := range remediation {
		if rule.match(f.Type) {
			return rule.text(f.Type)
		}
	}
	if f.Message != "" {
		return f.Message
	}
	return fmt.Sprintf("Address %s finding", f.Type)
}

// Recommendations lists one line per distinct remediation for CRITICAL through
// LOW findings, most severe first. The first finding to produce a line sets its severity.
func Recommendations(result *types.ScanResult) []Recommendation {
	recs := []Recommendation{}
	seen := make(map[string]bool)

	for _, cat := range result.Categories {
		for _, f := range cat.Findings {
			if f.Severity == types.SeverityInfo || f.Severity == types.SeverityGood {
				continue
			}
			text := RecommendationFor(f)
			if seen[text] {
				continue
			}
			seen[text] = true
			recs = append(recs, Recommendation{Severity: f.Severity, Text: text})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return severity.Compare(recs[i].Severity, recs[j].Severity) < 0
	})
	return recs
}
