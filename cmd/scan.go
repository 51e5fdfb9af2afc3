package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/history"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/progress"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/report"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/resolver"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/validation"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Run a phased scan against a target",
	Long: `Run every phase of the selected scan mode against target and print a
consolidated report.

Modes:
  light    Reconnaissance only
  deep     Reconnaissance, discovery & crawling, injection, advanced attacks
           and file & config analysis
  network  Network port scan

A phase that fails on the backend shows up as an "(Error)" category in the
report; the remaining phases still run. Ctrl+C cancels the scan.

Examples:
  scanrelay scan example.com
  scanrelay scan https://example.com --mode deep --output json
  scanrelay scan 192.0.2.10 --mode network --resolve=false`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var (
	scanMode      string
	scanOutput    string
	scanResolve   bool
	scanProgress  bool
	scanNoHistory bool
	scanPrivate   bool
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanMode, "mode", "m", "light", "scan mode (light, deep, network)")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "output format (table, json, yaml)")
	scanCmd.Flags().BoolVar(&scanResolve, "resolve", true, "resolve the target IP address for the report")
	scanCmd.Flags().BoolVar(&scanProgress, "progress", true, "show a progress bar on stderr")
	scanCmd.Flags().BoolVar(&scanNoHistory, "no-history", false, "do not record this scan in history")
	scanCmd.Flags().BoolVar(&scanPrivate, "allow-private", false, "allow localhost and private network targets")
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	check := validation.ValidateTarget(target, validation.Options{
		AllowPrivate: scanPrivate || cfg.Scan.AllowPrivateTargets,
	})
	if err := check.Err(); err != nil {
		return fmt.Errorf("invalid target %q: %w", target, err)
	}
	for _, w := range check.Warnings {
		color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	format, err := report.ParseFormat(scanOutput)
	if err != nil {
		return err
	}

	modeName := scanMode
	if !cmd.Flags().Changed("mode") {
		modeName = cfg.Scan.DefaultMode
	}
	mode, err := types.ParseScanMode(modeName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, scanLog, err := startTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTelemetry(tel)

	orch, err := buildOrchestrator(cfg, scanLog, tel, newBackendLimiter(cfg))
	if err != nil {
		return err
	}

	phases, _ := orch.Catalog().Phases(mode)
	if scanProgress {
		printScanHeader(target, mode, len(phases))
	}
	tracker := progress.New(os.Stderr, scanProgress, true)

	result, err := orch.RunScan(ctx, target, mode, tracker.Observe)
	if err != nil {
		tracker.Fail(err)
		if errors.Is(err, orchestrator.ErrScanCancelled) {
			color.New(color.FgYellow).Fprintln(os.Stderr, "\nScan cancelled before all phases ran")
		}
		return fmt.Errorf("scan of %s failed: %w", target, err)
	}
	tracker.Complete(result)

	if scanResolve {
		resolveTarget(ctx, result, scanLog)
	}

	if !scanNoHistory {
		recordHistory(ctx, result)
	}

	return report.Write(os.Stdout, result, format)
}

// resolveTarget fills ResolvedIP. A failed lookup only costs the report its IP line.
func resolveTarget(ctx context.Context, result *types.ScanResult, scanLog *logger.Logger) {
	res, err := resolver.New(cfg.Resolver, scanLog).Lookup(ctx, result.Target)
	if err != nil {
		scanLog.Warnw("Could not resolve target", "target", result.Target, "error", err)
		return
	}
	result.ResolvedIP = res.IP
}

func recordHistory(ctx context.Context, result *types.ScanResult) {
	store, err := history.Open(ctx, *cfg, log)
	if err != nil {
		log.Warnw("History unavailable, scan not recorded", "backend", cfg.History.Backend, "error", err)
		return
	}
	defer store.Close()

	entry := history.ToHistoryEntry(result, history.NewID())
	if err := store.Add(context.WithoutCancel(ctx), entry); err != nil {
		log.Warnw("Failed to record scan in history", "error", err)
		return
	}
	log.Debugw("Scan recorded in history", "scan_id", entry.ID, "backend", cfg.History.Backend)
}

// printScanHeader goes to stderr so json and yaml output stay parseable.
func printScanHeader(target string, mode types.ScanMode, phases int) {
	color.New(color.FgCyan).Fprintf(os.Stderr, "Scanning %s (%s mode, %d phases)\n", target, mode, phases)
}
