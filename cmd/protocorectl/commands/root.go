package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// jobCentreAddr is the Job Centre daemon address (host:port) for the
	// line-delimited JSON protocol, set via the --addr persistent flag.
	jobCentreAddr string

	// statusAddr is the base URL of the daemon's admin/metrics listener,
	// used for the status command.
	statusAddr string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for protocorectl.
var rootCmd = &cobra.Command{
	Use:   "protocorectl",
	Short: "CLI client for the protocored daemon",
	Long:  "protocorectl talks to the Job Centre's line-delimited JSON protocol directly and fetches the daemon's admin status endpoint.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&jobCentreAddr, "addr", "localhost:9001",
		"jobcentre daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&statusAddr, "status-addr", "http://localhost:9100",
		"daemon admin/metrics listener base URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
