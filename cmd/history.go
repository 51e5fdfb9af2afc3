package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/history"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/report"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

var historyOutput string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(historyOutput)
		if err != nil {
			return err
		}

		store, err := history.Open(cmd.Context(), *cfg, log)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()

		entries, err := store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		if format == report.FormatTable {
			return printHistory(entries)
		}
		return encodeHistory(os.Stdout, entries, format)
	},
}

// encodeHistory writes entries as JSON or YAML with the same field names.
func encodeHistory(w io.Writer, entries []types.HistoryEntry, format report.Format) error {
	switch format {
	case report.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case report.FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(entries)
	default:
		return fmt.Errorf("unsupported history format %q", format)
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "output format (table, json, yaml)")
}

func printHistory(entries []types.HistoryEntry) error {
	if len(entries) == 0 {
		color.Yellow("No scans recorded yet (backend: %s)\n", cfg.History.Backend)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("When", "Target", "Mode", "Vulns", "Critical", "High", "Medium", "Low")
	for _, e := range entries {
		row := []string{
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			e.URL,
			string(e.ScanMode),
			strconv.Itoa(e.TotalFindings),
			strconv.Itoa(e.Critical),
			strconv.Itoa(e.High),
			strconv.Itoa(e.Medium),
			strconv.Itoa(e.Low),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to build history table: %w", err)
		}
	}
	return table.Render()
}
