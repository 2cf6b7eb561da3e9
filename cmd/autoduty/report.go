package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var reportFlags struct {
	errorType  string
	traceback  string
	sourceFile string
	repoURL    string
	branch     string
	logFile    string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report a production error as a new incident",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.errorType, "error-type", "", "Error class, e.g. TypeError (required)")
	reportCmd.Flags().StringVar(&reportFlags.repoURL, "repo", "", "Repository URL (required)")
	reportCmd.Flags().StringVar(&reportFlags.branch, "branch", "main", "Branch the error occurred on")
	reportCmd.Flags().StringVar(&reportFlags.sourceFile, "source-file", "", "File the traceback points at")
	reportCmd.Flags().StringVar(&reportFlags.traceback, "traceback", "", "Raw traceback text")
	reportCmd.Flags().StringVar(&reportFlags.logFile, "logs", "", "File with recent application log lines")
	reportCmd.MarkFlagRequired("error-type")
	reportCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	payload := map[string]any{
		"error_type":  reportFlags.errorType,
		"traceback":   reportFlags.traceback,
		"source_file": reportFlags.sourceFile,
		"repo_url":    reportFlags.repoURL,
		"branch":      reportFlags.branch,
	}
	if reportFlags.logFile != "" {
		data, err := os.ReadFile(reportFlags.logFile)
		if err != nil {
			return fmt.Errorf("reading log file: %w", err)
		}
		payload["logs"] = splitNonEmptyLines(string(data))
	}

	body, _ := json.Marshal(payload)
	resp, err := http.Post(serverURL+"/incident", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: autoduty serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	fmt.Printf("Incident %s created (%s)\n", created.ID, created.Status)
	fmt.Printf("Follow it with: autoduty logs %s --follow\n", created.ID)
	return nil
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if line := s[start:i]; line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	return lines
}
