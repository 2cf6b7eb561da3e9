package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jeff4444/autoduty-backend/agent/llm"
	"github.com/jeff4444/autoduty-backend/model"
)

const (
	defaultMaxSteps     = 40
	defaultMaxMalformed = 2
)

// LoopInvestigator drives an LLM through a tool-use loop: each model turn is
// a single JSON object carrying either a tool call or a final verdict, and
// each tool result is appended to the running transcript.
type LoopInvestigator struct {
	Client llm.Client

	// MaxSteps bounds the number of model turns per attempt. Zero means the
	// default.
	MaxSteps int
	// MaxMalformed bounds consecutive unparseable model turns. Zero means
	// the default.
	MaxMalformed int
}

// turn is the shape every model response must decode into. Exactly one of
// Tool or Verdict is set.
type turn struct {
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Verdict *model.Verdict `json:"verdict,omitempty"`
}

func (l *LoopInvestigator) Investigate(ctx context.Context, req Request, tools *Toolset) (*model.Verdict, error) {
	maxSteps := l.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	maxMalformed := l.MaxMalformed
	if maxMalformed <= 0 {
		maxMalformed = defaultMaxMalformed
	}

	var transcript strings.Builder
	transcript.WriteString(BuildPrompt(req))

	malformed := 0
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := l.Client.Complete(ctx, systemPrompt, transcript.String())
		if err != nil {
			return nil, fmt.Errorf("%w: completion failed: %v", ErrReasoning, err)
		}

		t, perr := parseTurn(raw)
		if perr != nil {
			malformed++
			if malformed > maxMalformed {
				return nil, fmt.Errorf("%w: %d consecutive malformed responses, last: %v", ErrReasoning, malformed, perr)
			}
			log.Printf("agent: incident %s: malformed response (%d/%d): %v",
				req.Incident.ID, malformed, maxMalformed, perr)
			appendExchange(&transcript, raw,
				fmt.Sprintf("error: could not parse your response (%v); reply with exactly one JSON object", perr))
			continue
		}
		malformed = 0

		if t.Verdict != nil {
			return t.Verdict, nil
		}

		result := tools.Execute(ctx, t.Tool, t.Args)
		appendExchange(&transcript, raw, result)
	}

	return nil, fmt.Errorf("%w: no verdict after %d steps", ErrReasoning, maxSteps)
}

func appendExchange(transcript *strings.Builder, response, observation string) {
	transcript.WriteString("\n\nYour previous response:\n")
	transcript.WriteString(response)
	transcript.WriteString("\n\nResult:\n")
	transcript.WriteString(observation)
}

// parseTurn decodes one model response, tolerating a markdown code fence
// around the JSON object.
func parseTurn(raw string) (*turn, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	var t turn
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if t.Verdict == nil && t.Tool == "" {
		return nil, fmt.Errorf("response has neither tool nor verdict")
	}
	if t.Verdict != nil && t.Tool != "" {
		return nil, fmt.Errorf("response has both tool and verdict")
	}
	return &t, nil
}
