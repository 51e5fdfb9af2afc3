package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/report"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

func TestEncodeHistoryUsesSameKeysForJSONAndYAML(t *testing.T) {
	entries := []types.HistoryEntry{{
		ID:            "3f1c9a52-0a6e-4f57-9d44-2b8f6f1f0c11",
		URL:           "example.com",
		ScanMode:      types.ScanModeDeep,
		Timestamp:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalFindings: 4,
		Critical:      1,
		High:          1,
		Medium:        1,
		Low:           1,
	}}

	var jsonOut, yamlOut bytes.Buffer
	require.NoError(t, encodeHistory(&jsonOut, entries, report.FormatJSON))
	require.NoError(t, encodeHistory(&yamlOut, entries, report.FormatYAML))

	var fromJSON, fromYAML []map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &fromJSON))
	require.NoError(t, yaml.Unmarshal(yamlOut.Bytes(), &fromYAML))
	require.Len(t, fromJSON, 1)
	require.Len(t, fromYAML, 1)

	for _, key := range []string{"scan_id", "url", "scan_mode", "timestamp", "total_vulnerabilities", "critical", "high", "medium", "low"} {
		assert.Contains(t, fromJSON[0], key)
		assert.Contains(t, fromYAML[0], key)
	}
	assert.Len(t, fromYAML[0], len(fromJSON[0]))
	assert.Equal(t, "deep", fromYAML[0]["scan_mode"])
	assert.Equal(t, 4, fromYAML[0]["total_vulnerabilities"])
}

func TestEncodeHistoryRejectsTable(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, encodeHistory(&buf, nil, report.FormatTable))
}
