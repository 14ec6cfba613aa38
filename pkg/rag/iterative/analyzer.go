package iterative

import (
	"context"
	"fmt"
	"strings"

	"knowledge-assistant-be/pkg/llm"
)

const defaultSuggestedCount = 5

var uncertaintyPhrases = []string{
	needMoreMarker,
	"not enough",
	"insufficient",
	"don't have",
	"do not have",
	"no information",
	"not mentioned",
	"cannot find",
	"can't find",
	"unclear",
	"missing",
	"only partial",
}

// Analysis is the constrained-decode schema for the escalation analysis call.
type Analysis struct {
	ShouldRetrieveMore bool   `json:"should_retrieve_more"`
	Reason             string `json:"reason"`
	SuggestedCount     int    `json:"suggested_count"`
}

// hasUncertainty is the cheap pre-filter run before spending a model call.
func hasUncertainty(draft string) bool {
	lower := strings.ToLower(draft)
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// ShouldRetrieveMore decides whether more chunks are worth fetching. An
// empty draft means the caller already knows the context is lacking, so
// the phrase pre-filter is skipped. Any failure, including an unparseable
// reply, returns nil: no escalation.
func (c *Controller) ShouldRetrieveMore(ctx context.Context, query, draft string, current int) *Analysis {
	if draft != "" && !hasUncertainty(draft) {
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	reply, err := c.llmProvider.Generate(ctx, buildAnalysisPrompt(query, draft, current), llm.WithTemperature(0))
	if err != nil {
		c.logger.Warn(module, "Escalation analysis failed", map[string]interface{}{"error": err.Error()})
		return nil
	}

	var a Analysis
	if err := llm.DecodeJSON(reply, &a); err != nil {
		c.logger.Warn(module, "Escalation analysis unparseable, not escalating", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if !a.ShouldRetrieveMore {
		return nil
	}
	if a.SuggestedCount <= 0 {
		a.SuggestedCount = defaultSuggestedCount
	}
	return &a
}

func buildAnalysisPrompt(query, draft string, current int) string {
	var prompt strings.Builder
	prompt.WriteString("You decide whether an assistant needs more document excerpts to answer a question.\n")
	prompt.WriteString("Respond with a JSON object only:\n")
	prompt.WriteString(`{"should_retrieve_more": true|false, "reason": "<short>", "suggested_count": <additional excerpts, 1-20>}`)
	prompt.WriteString("\n\n")
	prompt.WriteString(fmt.Sprintf("Question: %s\n", query))
	prompt.WriteString(fmt.Sprintf("Excerpts already provided: %d\n", current))
	if draft != "" {
		prompt.WriteString(fmt.Sprintf("Assistant's assessment: %s\n", draft))
	} else {
		prompt.WriteString("Assistant's assessment: the provided excerpts were judged insufficient.\n")
	}
	return prompt.String()
}
