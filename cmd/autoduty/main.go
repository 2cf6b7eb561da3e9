// AutoDuty - automated production-error triage.
//
// Report an error, get a verified fix PR.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "autoduty",
	Short: "AutoDuty - automated production-error triage",
	Long: `AutoDuty investigates production errors, verifies fixes in a sandbox,
and opens pull requests.

  autoduty serve                                Start the server
  autoduty report --error-type TypeError ...    Report an error
  autoduty list                                 List incidents
  autoduty status <id>                          Check incident status
  autoduty logs <id> --follow                   Stream incident events
  autoduty approve <id>                         Open the fix PR`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AUTODUTY_SERVER", "http://localhost:8000"), "AutoDuty server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
