package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

func init() {
	color.NoColor = true
}

func snapshot(group string, index, completed int, test string) types.ScanProgress {
	return types.ScanProgress{
		CurrentTest:    test,
		Progress:       float64(completed) / 54 * 100,
		TotalTests:     54,
		CompletedTests: completed,
		CurrentGroup:   group,
		GroupIndex:     index,
		TotalGroups:    5,
		ElapsedSeconds: completed,
	}
}

func TestTrackerLinePerGroup(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, true, false)

	tr.Observe(snapshot("Reconnaissance", 1, 0, "Web Server Fingerprint"))
	tr.Observe(snapshot("Reconnaissance", 1, 1, "HTTP Security Headers"))
	tr.Observe(snapshot("Discovery & Crawling", 2, 11, "Robots.txt Parsing"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Reconnaissance (1/5)")
	assert.Contains(t, lines[1], "Discovery & Crawling (2/5)")
	assert.Contains(t, lines[1], "11/54 tests")
	assert.Equal(t, []string{"Reconnaissance", "Discovery & Crawling"}, tr.Groups())
}

func TestTrackerInlineRedraws(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, true, true)

	tr.Observe(snapshot("Reconnaissance", 1, 0, "a"))
	tr.Observe(snapshot("Reconnaissance", 1, 1, "b"))

	assert.Equal(t, 2, strings.Count(buf.String(), "\r\033[K"))
}

func TestTrackerDisabledWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, false, true)

	tr.Observe(snapshot("Reconnaissance", 1, 0, "a"))
	tr.Complete(nil)
	tr.Fail(errors.New("boom"))

	assert.Empty(t, buf.String())
	assert.Equal(t, []string{"Reconnaissance"}, tr.Groups())
}

func TestTrackerComplete(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, true, false)

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }
	tr.startTime = clock

	tr.Observe(snapshot("Reconnaissance", 1, 0, "a"))
	clock = clock.Add(90 * time.Second)
	tr.Observe(types.ScanProgress{CurrentTest: "Complete", Progress: 100, TotalTests: 54, CompletedTests: 54, CurrentGroup: "Done"})
	tr.Complete(&types.ScanResult{})

	out := buf.String()
	assert.Contains(t, out, "Scan completed in 1m 30s")
	assert.Contains(t, out, "✓ Reconnaissance (1m 30s)")
	assert.Contains(t, out, "ETA: done")
}

func TestTrackerCompleteMarksFailedPhase(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, true, false)

	tr.Observe(snapshot("Reconnaissance", 1, 0, "Web Server Fingerprint"))
	tr.Observe(snapshot("Discovery & Crawling", 2, 11, "Robots.txt Parsing"))
	tr.Observe(snapshot("Injection Testing", 3, 20, "SQL Injection"))
	tr.Observe(snapshot("Advanced Testing", 4, 35, "CORS Misconfiguration"))
	tr.Observe(types.ScanProgress{CurrentTest: "Complete", Progress: 100, TotalTests: 54, CompletedTests: 54, CurrentGroup: "Done"})

	result := &types.ScanResult{Categories: []types.ScanCategory{
		{Key: "headers", Label: "Security Headers"},
		{Key: "injection_error", Label: "Injection Testing (Error)", Findings: []types.Finding{
			{Type: "Scan Error", Severity: types.SeverityInfo, Message: "Server responded with 502"},
		}},
	}}
	tr.Complete(result)

	out := buf.String()
	assert.Contains(t, out, "✗ Injection Testing (")
	assert.Contains(t, out, "✓ Reconnaissance (")
	assert.Contains(t, out, "✓ Discovery & Crawling (")
	assert.Contains(t, out, "✓ Advanced Testing (")
	assert.Equal(t, 1, strings.Count(out, "✗"))
}

func TestTrackerFail(t *testing.T) {
	var buf bytes.Buffer
	tr := New(&buf, true, false)

	tr.Observe(snapshot("Injection Testing", 3, 20, "SQL Injection"))
	tr.Fail(errors.New("scan cancelled"))

	assert.Contains(t, buf.String(), "Scan stopped at Injection Testing: scan cancelled")
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		500 * time.Millisecond:      "< 1s",
		42 * time.Second:            "42s",
		125 * time.Second:           "2m 5s",
		2*time.Hour + 3*time.Minute: "2h 3m",
	}
	for d, want := range tests {
		assert.Equal(t, want, formatDuration(d))
	}
}
