package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
	SeverityGood     Severity = "GOOD"
)

// Valid reports whether s is one of the six known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo, SeverityGood:
		return true
	}
	return false
}

type ScanMode string

const (
	ScanModeLight   ScanMode = "light"
	ScanModeDeep    ScanMode = "deep"
	ScanModeNetwork ScanMode = "network"
)

// ParseScanMode accepts a mode name case-insensitively.
func ParseScanMode(s string) (ScanMode, error) {
	switch mode := ScanMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ScanModeLight, ScanModeDeep, ScanModeNetwork:
		return mode, nil
	}
	return "", fmt.Errorf("unknown scan mode %q (want light, deep or network)", s)
}

type ScanStatus string

const (
	ScanStatusIdle      ScanStatus = "idle"
	ScanStatusScanning  ScanStatus = "scanning"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusError     ScanStatus = "error"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Finding is a single observation reported by the scanning backend.
// Keys the backend sends that have no field here are kept in Extra.
type Finding struct {
	Type           string         `json:"type" yaml:"type"`
	Severity       Severity       `json:"severity" yaml:"severity"`
	Message        string         `json:"message,omitempty" yaml:"message,omitempty"`
	Evidence       string         `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Location       string         `json:"location,omitempty" yaml:"location,omitempty"`
	Payload        string         `json:"payload,omitempty" yaml:"payload,omitempty"`
	Recommendation string         `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	Value          string         `json:"value,omitempty" yaml:"value,omitempty"`
	URL            string         `json:"url,omitempty" yaml:"url,omitempty"`
	Parameter      string         `json:"parameter,omitempty" yaml:"parameter,omitempty"`
	Service        string         `json:"service,omitempty" yaml:"service,omitempty"`
	Status         string         `json:"status,omitempty" yaml:"status,omitempty"`
	Port           int            `json:"port,omitempty" yaml:"port,omitempty"`
	Extra          map[string]any `json:"-" yaml:"extra,omitempty"`
}

// findingFields aliases Finding without its JSON methods.
type findingFields Finding

// stringFields maps the JSON keys of the string attributes to their fields.
func (f *findingFields) stringFields() map[string]*string {
	return map[string]*string{
		"type":           &f.Type,
		"severity":       (*string)(&f.Severity),
		"message":        &f.Message,
		"evidence":       &f.Evidence,
		"location":       &f.Location,
		"payload":        &f.Payload,
		"recommendation": &f.Recommendation,
		"value":          &f.Value,
		"url":            &f.URL,
		"parameter":      &f.Parameter,
		"service":        &f.Service,
		"status":         &f.Status,
	}
}

// UnmarshalJSON accepts loosely typed backend findings. Numbers and booleans
// sent for a string attribute keep their JSON text, a numeric string is
// accepted as a port, and any other mismatch lands in Extra under its key.
func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var fields findingFields
	strs := fields.stringFields()
	for key, value := range raw {
		if dst, ok := strs[key]; ok {
			if s, ok := looseString(value); ok {
				*dst = s
				continue
			}
		} else if key == "port" {
			if port, ok := loosePort(value); ok {
				fields.Port = port
				continue
			}
		}

		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("finding attribute %q: %w", key, err)
		}
		if fields.Extra == nil {
			fields.Extra = make(map[string]any)
		}
		fields.Extra[key] = v
	}

	*f = Finding(fields)
	return nil
}

func looseString(value json.RawMessage) (string, bool) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return "", false
	}
	switch c := value[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return "", false
		}
		return s, true
	case c == 'n':
		return "", string(value) == "null"
	case c == 't' || c == 'f' || c == '-' || (c >= '0' && c <= '9'):
		return string(value), true
	}
	return "", false
}

func loosePort(value json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		var s string
		if json.Unmarshal(value, &s) != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if n == "" {
		return 0, true
	}
	port, err := strconv.Atoi(string(n))
	if err != nil || port < 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

func (f Finding) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(findingFields(f))
	if err != nil {
		return nil, err
	}
	if len(f.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]any, len(f.Extra)+16)
	for k, v := range f.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ScanCategory groups the findings one phase reported under a single key.
type ScanCategory struct {
	Key      string    `json:"key" yaml:"key"`
	Label    string    `json:"label" yaml:"label"`
	Findings []Finding `json:"findings" yaml:"findings"`
}

type ScanResult struct {
	Target     string         `json:"target" yaml:"target"`
	ResolvedIP string         `json:"resolved_ip,omitempty" yaml:"resolved_ip,omitempty"`
	ScanMode   ScanMode       `json:"scan_mode" yaml:"scan_mode"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
	Categories []ScanCategory `json:"categories" yaml:"categories"`
}

// FindingCount returns the number of findings across all categories.
func (r *ScanResult) FindingCount() int {
	total := 0
	for _, c := range r.Categories {
		total += len(c.Findings)
	}
	return total
}

// DiscoveryData is the crawl bundle the discovery phase hands to later phases.
type DiscoveryData struct {
	URLs   []string         `json:"urls"`
	Forms  []DiscoveredForm `json:"forms"`
	Params []URLParams      `json:"params"`
	HTML   string           `json:"html"`
}

type DiscoveredForm struct {
	Action string   `json:"action"`
	Method string   `json:"method"`
	Inputs []string `json:"inputs"`
}

type URLParams struct {
	URL    string   `json:"url"`
	Params []string `json:"params"`
}

// ScanProgress is a point-in-time progress snapshot emitted while a scan runs.
type ScanProgress struct {
	CurrentTest    string  `json:"currentTest"`
	Progress       float64 `json:"progress"`
	TotalTests     int     `json:"totalTests"`
	CompletedTests int     `json:"completedTests"`
	CurrentGroup   string  `json:"currentGroup,omitempty"`
	GroupIndex     int     `json:"groupIndex,omitempty"`
	TotalGroups    int     `json:"totalGroups,omitempty"`
	ElapsedSeconds int     `json:"elapsed"`
}

type HistoryEntry struct {
	ID            string    `json:"scan_id" yaml:"scan_id" db:"scan_id"`
	URL           string    `json:"url" yaml:"url" db:"url"`
	ScanMode      ScanMode  `json:"scan_mode" yaml:"scan_mode" db:"scan_mode"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp" db:"timestamp"`
	TotalFindings int       `json:"total_vulnerabilities" yaml:"total_vulnerabilities" db:"total_vulnerabilities"`
	Critical      int       `json:"critical" yaml:"critical" db:"critical"`
	High          int       `json:"high" yaml:"high" db:"high"`
	Medium        int       `json:"medium" yaml:"medium" db:"medium"`
	Low           int       `json:"low" yaml:"low" db:"low"`
}
