package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/tokens"
)

const (
	module = "ContextWindowManager"

	summaryPrefix      = "Summary of the earlier conversation:\n"
	maxSummarizedChars = 2000
)

// Result is the trimmed history for one turn. Summary is empty when no
// summary was produced.
type Result struct {
	Messages []llm.Message
	Summary  string
	Trimmed  bool
}

// SummaryMessage returns the summary as a system message. ok is false when
// there is none.
func (r Result) SummaryMessage() (llm.Message, bool) {
	if r.Summary == "" {
		return llm.Message{}, false
	}
	return llm.Message{Role: llm.RoleSystem, Content: summaryPrefix + r.Summary}, true
}

// EstimatedTokens counts summary and messages, excluding the system prompt.
func (r Result) EstimatedTokens() int {
	total := tokens.EstimateMessages(r.Messages)
	if msg, ok := r.SummaryMessage(); ok {
		total += tokens.EstimateMessage(msg)
	}
	return total
}

type Manager struct {
	llmProvider llm.LLMProvider
	timeout     time.Duration
	logger      logger.ILogger
}

func NewManager(llmProvider llm.LLMProvider, summaryTimeout time.Duration, log logger.ILogger) *Manager {
	return &Manager{llmProvider: llmProvider, timeout: summaryTimeout, logger: log}
}

// Fit trims history (which excludes the current message) to budget. History
// that already fits is returned as is without any model call.
func (m *Manager) Fit(ctx context.Context, history []llm.Message, budget ContextBudget) Result {
	if budget.SystemPromptTokens+tokens.EstimateMessages(history) <= budget.MaxTokens {
		return Result{Messages: history}
	}

	var res Result
	switch budget.Strategy {
	case StrategySliding:
		res = Result{Messages: fitSuffix(lastN(history, budget.WindowSize), budget.Remaining())}
	case StrategyToken:
		res = Result{Messages: fitSuffix(history, budget.Remaining())}
	default:
		res = m.smart(ctx, history, budget)
	}
	res.Trimmed = true

	m.logger.Debug(module, "History trimmed", map[string]interface{}{
		"strategy":    string(budget.Strategy),
		"before":      len(history),
		"after":       len(res.Messages),
		"has_summary": res.Summary != "",
		"tokens":      budget.SystemPromptTokens + res.EstimatedTokens(),
		"max_tokens":  budget.MaxTokens,
	})
	return res
}

func (m *Manager) smart(ctx context.Context, history []llm.Message, budget ContextBudget) Result {
	recent := lastN(history, budget.WindowSize)
	old := history[:len(history)-len(recent)]

	if len(old) == 0 {
		return Result{Messages: fitSuffix(recent, budget.Remaining())}
	}

	summary, err := m.summarize(ctx, old)
	if err != nil {
		m.logger.Warn(module, "Summarization failed, keeping recent messages only", map[string]interface{}{
			"error":   err.Error(),
			"dropped": len(old),
		})
		return Result{Messages: fitSuffix(recent, budget.Remaining())}
	}

	res := Result{Summary: summary}
	msg, _ := res.SummaryMessage()
	summaryTokens := tokens.EstimateMessage(msg)
	if summaryTokens > budget.Remaining() {
		m.logger.Warn(module, "Summary exceeds budget, dropping it", map[string]interface{}{"summary_tokens": summaryTokens})
		return Result{Messages: fitSuffix(recent, budget.Remaining())}
	}

	res.Messages = fitSuffix(recent, budget.Remaining()-summaryTokens)
	return res
}

func (m *Manager) summarize(ctx context.Context, old []llm.Message) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	var transcript strings.Builder
	for _, msg := range old {
		content := msg.Content
		if r := []rune(content); len(r) > maxSummarizedChars {
			content = string(r[:maxSummarizedChars]) + "..."
		}
		transcript.WriteString(fmt.Sprintf("%s: %s\n\n", strings.ToUpper(msg.Role), content))
	}

	prompt := []llm.Message{
		{Role: llm.RoleSystem, Content: "Summarize the conversation below in 2-3 short paragraphs. Keep names, facts, decisions and open questions. Write in the third person."},
		{Role: llm.RoleUser, Content: transcript.String()},
	}

	summary, err := m.llmProvider.Chat(ctx, prompt, llm.WithTemperature(0.2))
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return summary, nil
}

func lastN(msgs []llm.Message, n int) []llm.Message {
	if n >= len(msgs) {
		return msgs
	}
	if n <= 0 {
		return nil
	}
	return msgs[len(msgs)-n:]
}

// fitSuffix returns the longest suffix of msgs whose estimate fits limit.
// Messages are kept whole.
func fitSuffix(msgs []llm.Message, limit int) []llm.Message {
	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := tokens.EstimateMessage(msgs[i])
		if used+cost > limit {
			break
		}
		used += cost
		start = i
	}
	return msgs[start:]
}
