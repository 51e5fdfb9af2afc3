package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/catalog"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

var phasesCmd = &cobra.Command{
	Use:   "phases [mode]",
	Short: "List the phases each scan mode runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := catalog.Default()

		modes := cat.Modes()
		if len(args) == 1 {
			mode, err := types.ParseScanMode(args[0])
			if err != nil {
				return err
			}
			modes = []types.ScanMode{mode}
		}

		for _, mode := range modes {
			if err := printPhases(cat, mode); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(phasesCmd)
}

func printPhases(cat *catalog.Catalog, mode types.ScanMode) error {
	phases, ok := cat.Phases(mode)
	if !ok {
		return fmt.Errorf("unknown scan mode %q", mode)
	}

	color.New(color.Bold).Printf("%s mode: %d phases, %d tests\n", mode, len(phases), cat.TotalTests(mode))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Phase", "Label", "Tests", "Uses Discovery", "Sub-tests")
	for i, p := range phases {
		uses := ""
		if p.RequiresDiscoveryData {
			uses = "yes"
		}
		row := []string{
			strconv.Itoa(i + 1),
			p.ID,
			p.Label,
			strconv.Itoa(p.TestCount),
			uses,
			strings.Join(cat.SubTests(p.ID), ", "),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to build phase table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render phase table: %w", err)
	}
	fmt.Println()
	return nil
}
