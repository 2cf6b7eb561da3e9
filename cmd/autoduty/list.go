package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all incidents",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/incidents")
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: autoduty serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var incidents []struct {
		ID         string `json:"id"`
		ErrorType  string `json:"error_type"`
		SourceFile string `json:"source_file"`
		Status     string `json:"status"`
		RootCause  string `json:"root_cause"`
		CreatedAt  string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&incidents); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(incidents) == 0 {
		fmt.Println("No incidents found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tERROR\tFILE\tSTATUS\tROOT CAUSE")
	for _, inc := range incidents {
		cause := inc.RootCause
		if len(cause) > 50 {
			cause = cause[:47] + "..."
		}
		if cause == "" {
			cause = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inc.ID, inc.ErrorType, inc.SourceFile, statusIcon(inc.Status), cause)
	}
	return w.Flush()
}

func statusIcon(status string) string {
	switch status {
	case "detected":
		return "🆕 detected"
	case "investigating":
		return "🔍 investigating"
	case "fix_proposed":
		return "📝 fix proposed"
	case "simulating":
		return "🧪 simulating"
	case "verified":
		return "✅ verified"
	case "failed":
		return "❌ failed"
	case "pr_created":
		return "🚀 PR created"
	case "resolved":
		return "🎉 resolved"
	default:
		return status
	}
}
