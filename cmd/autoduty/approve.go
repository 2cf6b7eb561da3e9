package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve [incident-id]",
	Short: "Open the fix pull request for an incident",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	resp, err := http.Post(serverURL+"/incidents/"+args[0]+"/approve", "application/json", nil)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var inc struct {
		ID       string `json:"id"`
		PRUrl    string `json:"pr_url"`
		PRBranch string `json:"pr_branch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&inc); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("PR created for incident %s\n", inc.ID)
	fmt.Printf("Branch: %s\n", inc.PRBranch)
	fmt.Printf("URL:    %s\n", inc.PRUrl)
	return nil
}
