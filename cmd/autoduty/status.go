package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [incident-id]",
	Short: "Get the status of an incident",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs [incident-id]",
	Short: "View incident events",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep streaming until the incident completes")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/incidents/" + args[0])
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var inc struct {
		ID             string   `json:"id"`
		ErrorType      string   `json:"error_type"`
		SourceFile     string   `json:"source_file"`
		RepoURL        string   `json:"repo_url"`
		Status         string   `json:"status"`
		RootCause      string   `json:"root_cause"`
		FixDescription string   `json:"fix_description"`
		AffectedFiles  []string `json:"affected_files"`
		PRUrl          string   `json:"pr_url"`
		Error          string   `json:"error"`
		CreatedAt      string   `json:"created_at"`
		UpdatedAt      string   `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&inc); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Incident:  %s\n", inc.ID)
	fmt.Printf("Error:     %s in %s\n", inc.ErrorType, inc.SourceFile)
	fmt.Printf("Repo:      %s\n", inc.RepoURL)
	fmt.Printf("Status:    %s\n", statusIcon(inc.Status))
	if inc.RootCause != "" {
		fmt.Printf("Cause:     %s\n", inc.RootCause)
	}
	if inc.FixDescription != "" {
		fmt.Printf("Fix:       %s\n", inc.FixDescription)
	}
	if len(inc.AffectedFiles) > 0 {
		fmt.Printf("Files:     %s\n", strings.Join(inc.AffectedFiles, ", "))
	}
	if inc.PRUrl != "" {
		fmt.Printf("PR:        %s\n", inc.PRUrl)
	}
	if inc.Error != "" {
		fmt.Printf("Failure:   %s\n", inc.Error)
	}
	fmt.Printf("Created:   %s\n", inc.CreatedAt)
	fmt.Printf("Updated:   %s\n", inc.UpdatedAt)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	req, _ := http.NewRequest("GET", serverURL+"/incidents/"+args[0]+"/stream", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Kind    string         `json:"kind"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Kind {
		case "status_change":
			fmt.Printf("\033[36m[%v]\033[0m %v\n", event.Payload["status"], event.Payload["message"])
		case "sandbox_output":
			fmt.Printf("[%v] %v\n", event.Payload["label"], event.Payload["data"])
		case "tool_call":
			fmt.Printf("\033[33m[tool]\033[0m %v\n", event.Payload["tool"])
		case "done":
			fmt.Printf("\n\033[32m✓ Done:\033[0m %v\n", event.Payload["status"])
			return nil
		}
		if !logsFollow && isTerminalStatus(event.Payload) {
			return nil
		}
	}
	return scanner.Err()
}

func isTerminalStatus(payload map[string]any) bool {
	switch payload["status"] {
	case "verified", "failed", "pr_created", "resolved":
		return true
	}
	return false
}
