package pipeline

import (
	"fmt"
	"strings"

	"github.com/jeff4444/autoduty-backend/model"
)

const (
	// feedbackLogLines caps the terminal-log tail carried into the next
	// attempt's context.
	feedbackLogLines = 100
	// feedbackRawChars caps the raw verification output.
	feedbackRawChars = 2000
)

// ComposeRetryFeedback renders a failed verification into a bounded text
// block for the next attempt. Pure function of its inputs.
func ComposeRetryFeedback(reproduced, fixVerified bool, terminalLog []model.TerminalLogEntry, rawOutput string) string {
	var b strings.Builder

	b.WriteString("The previous fix attempt failed verification.\n")
	fmt.Fprintf(&b, "Bug reproduced on pre-fix code: %t\n", reproduced)
	fmt.Fprintf(&b, "Fix verified on post-fix code: %t\n", fixVerified)

	if len(terminalLog) > 0 {
		tail := terminalLog
		if len(tail) > feedbackLogLines {
			tail = tail[len(tail)-feedbackLogLines:]
		}
		fmt.Fprintf(&b, "\nSandbox terminal output (last %d lines):\n", len(tail))
		for _, entry := range tail {
			if entry.Stream == "stderr" {
				fmt.Fprintf(&b, "[%s] [stderr] %s\n", entry.Label, entry.Data)
			} else {
				fmt.Fprintf(&b, "[%s] %s\n", entry.Label, entry.Data)
			}
		}
	}

	if rawOutput != "" {
		b.WriteString("\nRaw verification output:\n")
		b.WriteString(model.Truncate(rawOutput, feedbackRawChars))
		b.WriteString("\n")
	}

	return b.String()
}
