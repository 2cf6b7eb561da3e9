// Package llm provides a minimal multi-provider LLM client abstraction.
// The reasoning loop doesn't care about the provider; it just needs a
// function that takes a system prompt plus user prompt and returns text.
package llm

import (
	"context"
	"fmt"
	"os"
)

// Client is the minimal interface for making LLM API calls.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// FromEnv creates a Client from environment variables. Prefers Anthropic,
// then OpenAI, then Gemini. model overrides the provider default when
// non-empty.
func FromEnv(ctx context.Context, model string) (Client, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropic(key, model), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return NewOpenAI(key, model), nil
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		return NewGemini(ctx, key, model)
	}
	return nil, fmt.Errorf("no LLM API key found (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GOOGLE_API_KEY)")
}
