package cmd

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/resolver"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <host>",
	Short: "Resolve a host or URL to its IP addresses",
	Example: `  scanrelay resolve example.com
  scanrelay resolve https://example.com:8443/login --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := resolver.New(cfg.Resolver, log).Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if resolveJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		color.New(color.Bold).Printf("%s", res.Domain)
		color.Green(" -> %s\n", res.IP)
		if len(res.IPs) > 1 {
			color.White("  all addresses: %s\n", strings.Join(res.IPs, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the result as JSON")
}
