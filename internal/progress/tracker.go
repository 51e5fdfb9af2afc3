// Package progress renders scan progress snapshots on a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

const (
	barWidth = 30
	// errorLabelSuffix marks the category a failed phase leaves in the result.
	errorLabelSuffix = " (Error)"
)

// Tracker is a progress observer that draws a single updating bar line and
// remembers how long each phase group took.
type Tracker struct {
	out     io.Writer
	enabled bool
	// inline redraws the bar in place; otherwise each group change prints a new line.
	inline bool

	mu        sync.Mutex
	startTime time.Time
	groups    []groupTiming
	last      types.ScanProgress
	now       func() time.Time
}

type groupTiming struct {
	Label string
	Start time.Time
	End   time.Time
}

func New(out io.Writer, enabled, inline bool) *Tracker {
	return &Tracker{
		out:       out,
		enabled:   enabled,
		inline:    inline,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Observe matches orchestrator.ProgressFunc.
func (t *Tracker) Observe(p types.ScanProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	groupChanged := p.CurrentGroup != t.last.CurrentGroup
	if groupChanged {
		if n := len(t.groups); n > 0 {
			t.groups[n-1].End = now
		}
		if p.CurrentGroup != "" && p.CurrentGroup != "Done" {
			t.groups = append(t.groups, groupTiming{Label: p.CurrentGroup, Start: now})
		}
	}
	t.last = p

	if !t.enabled {
		return
	}
	if t.inline {
		fmt.Fprint(t.out, "\r\033[K")
		fmt.Fprint(t.out, t.line(p))
		return
	}
	if groupChanged {
		fmt.Fprintln(t.out, t.line(p))
	}
}

func (t *Tracker) line(p types.ScanProgress) string {
	pct := int(p.Progress)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	filled := (pct * barWidth) / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	group := p.CurrentGroup
	if p.TotalGroups > 0 {
		group = fmt.Sprintf("%s (%d/%d)", p.CurrentGroup, p.GroupIndex, p.TotalGroups)
	}

	elapsed := time.Duration(p.ElapsedSeconds) * time.Second
	eta := "calculating..."
	if pct > 0 && pct < 100 && elapsed > 0 {
		totalEstimated := (elapsed * 100) / time.Duration(pct)
		eta = formatDuration(totalEstimated - elapsed)
	}
	if pct == 100 {
		eta = "done"
	}

	return fmt.Sprintf("[%s] %3d%% | %s | %s | %d/%d tests | ETA: %s",
		color.CyanString(bar),
		pct,
		group,
		p.CurrentTest,
		p.CompletedTests,
		p.TotalTests,
		eta,
	)
}

// Complete prints the final summary with per-group durations. A group is
// marked failed when result carries its "<label> (Error)" category.
func (t *Tracker) Complete(result *types.ScanResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.groups); n > 0 && t.groups[n-1].End.IsZero() {
		t.groups[n-1].End = t.now()
	}
	if !t.enabled {
		return
	}

	if t.inline {
		fmt.Fprint(t.out, "\r\033[K")
	}
	fmt.Fprintf(t.out, "\n%s Scan completed in %s\n\n", color.GreenString("✓"), formatDuration(t.now().Sub(t.startTime)))

	failed := failedGroups(result)
	fmt.Fprintln(t.out, "Phase Summary:")
	for _, g := range t.groups {
		status := color.GreenString("✓")
		if failed[g.Label] {
			status = color.RedString("✗")
		}
		fmt.Fprintf(t.out, "  %s %s (%s)\n", status, g.Label, formatDuration(g.End.Sub(g.Start)))
	}
	fmt.Fprintln(t.out)
}

func failedGroups(result *types.ScanResult) map[string]bool {
	failed := make(map[string]bool)
	if result == nil {
		return failed
	}
	for _, c := range result.Categories {
		if label, ok := strings.CutSuffix(c.Label, errorLabelSuffix); ok {
			failed[label] = true
		}
	}
	return failed
}

// Fail clears the bar and reports why the scan stopped.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}
	if t.inline {
		fmt.Fprint(t.out, "\r\033[K")
	}
	fmt.Fprintf(t.out, "\n%s Scan stopped at %s: %v\n", color.RedString("✗"), t.last.CurrentGroup, err)
}

// Groups returns the phase labels seen so far, in order.
func (t *Tracker) Groups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, g.Label)
	}
	return out
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
