// Package window fits conversation history into a token budget before the
// final prompt is assembled.
package window

import (
	"fmt"

	"knowledge-assistant-be/pkg/tokens"
)

type Strategy string

const (
	StrategySliding Strategy = "sliding"
	StrategyToken   Strategy = "token"
	StrategySmart   Strategy = "smart"
)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySliding, StrategyToken, StrategySmart:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown context strategy %q", s)
	}
}

// ContextBudget is fixed for the lifetime of one turn.
type ContextBudget struct {
	MaxTokens          int
	SystemPromptTokens int
	Strategy           Strategy
	WindowSize         int
}

// NewBudget builds a budget for a rendered system prompt.
func NewBudget(maxTokens int, systemPrompt string, strategy Strategy, windowSize int) ContextBudget {
	if windowSize < 0 {
		windowSize = 0
	}
	return ContextBudget{
		MaxTokens:          maxTokens,
		SystemPromptTokens: tokens.Estimate(systemPrompt),
		Strategy:           strategy,
		WindowSize:         windowSize,
	}
}

// Remaining is what is left for history once the system prompt is counted.
func (b ContextBudget) Remaining() int {
	r := b.MaxTokens - b.SystemPromptTokens
	if r < 0 {
		return 0
	}
	return r
}
