// Package rephrase turns a context-dependent follow-up into a standalone
// search query.
package rephrase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"
)

const (
	module = "QueryRouter"

	historyTurns   = 6
	maxTurnChars   = 500
	maxQueryGrowth = 4
)

type Rephraser struct {
	llmProvider llm.LLMProvider
	timeout     time.Duration
	logger      logger.ILogger
}

func NewRephraser(llmProvider llm.LLMProvider, timeout time.Duration, log logger.ILogger) *Rephraser {
	return &Rephraser{llmProvider: llmProvider, timeout: timeout, logger: log}
}

// Rephrase returns a standalone version of query. With no history, or on any
// model failure, the raw query is returned.
func (r *Rephraser) Rephrase(ctx context.Context, query string, history []llm.Message) string {
	if len(history) == 0 || strings.TrimSpace(query) == "" {
		return query
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	reply, err := r.llmProvider.Generate(ctx, r.buildPrompt(query, history), llm.WithTemperature(0))
	if err != nil {
		r.logger.Warn(module, "Rephrase failed, using raw query", map[string]interface{}{"error": err.Error()})
		return query
	}

	rephrased := llm.TrimQuotes(firstLine(reply))
	if rephrased == "" || len(rephrased) > maxQueryGrowth*len(query)+200 {
		r.logger.Warn(module, "Rephrase reply rejected", map[string]interface{}{"reply_length": len(reply)})
		return query
	}

	r.logger.Debug(module, "Query rephrased", map[string]interface{}{"original": query, "rephrased": rephrased})
	return rephrased
}

func (r *Rephraser) buildPrompt(query string, history []llm.Message) string {
	var prompt strings.Builder

	prompt.WriteString("<system>\n")
	prompt.WriteString("Rewrite the user's latest message as a standalone search query.\n")
	prompt.WriteString("Resolve pronouns and references using the conversation. Do NOT answer it.\n")
	prompt.WriteString("Reply with the rewritten query only, on one line.\n")
	prompt.WriteString("</system>\n\n")

	start := 0
	if len(history) > historyTurns {
		start = len(history) - historyTurns
	}

	prompt.WriteString("<conversation>\n")
	for _, m := range history[start:] {
		if m.Role == llm.RoleSystem {
			continue
		}
		prompt.WriteString(fmt.Sprintf("%s: %s\n", strings.ToUpper(m.Role), truncate(m.Content, maxTurnChars)))
	}
	prompt.WriteString("</conversation>\n\n")

	prompt.WriteString("<latest_message>\n")
	prompt.WriteString(query)
	prompt.WriteString("\n</latest_message>")

	return prompt.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
