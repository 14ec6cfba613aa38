package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/rag/retrieval"
)

const (
	module = "QueryRouter"

	escapeMinResults = 1
	escapeMaxResults = 2
)

// EscapeHatch asks the model whether a tiny fast-path result set is enough
// to answer, and upgrades the route when it is not.
type EscapeHatch struct {
	llm     llm.LLMProvider
	timeout time.Duration
	logger  logger.ILogger
}

func NewEscapeHatch(llmProvider llm.LLMProvider, timeout time.Duration, log logger.ILogger) *EscapeHatch {
	return &EscapeHatch{llm: llmProvider, timeout: timeout, logger: log}
}

// Applies reports whether the check should run for route and chunk count.
func (e *EscapeHatch) Applies(route *QueryRoute, resultCount int) bool {
	return route.Path == PathFast && route.SkipIterativeRetrieval && !route.Upgraded &&
		resultCount >= escapeMinResults && resultCount <= escapeMaxResults
}

// Check runs the yes/no call and upgrades route on a negative answer. Call
// failures and unreadable replies leave the route untouched. It never
// retrieves anything itself.
func (e *EscapeHatch) Check(ctx context.Context, route *QueryRoute, query string, chunks []retrieval.RetrievedChunk) bool {
	if !e.Applies(route, len(chunks)) {
		return false
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	reply, err := e.llm.Generate(ctx, buildEscapePrompt(query, chunks), llm.WithTemperature(0), llm.WithMaxTokens(3))
	if err != nil {
		e.logger.Warn(module, "Escape check failed, keeping fast path", map[string]interface{}{"error": err.Error()})
		return false
	}

	canAnswer, ok := llm.ParseYesNo(reply)
	if !ok {
		e.logger.Warn(module, "Escape check reply unreadable, keeping fast path", map[string]interface{}{"reply": reply})
		return false
	}
	if canAnswer {
		return false
	}

	upgraded := route.Upgrade("fast-path context judged insufficient")
	if upgraded {
		metrics.RouteUpgrades.Inc()
		e.logger.Info(module, "Route upgraded to slow path", map[string]interface{}{"results": len(chunks)})
	}
	return upgraded
}

func buildEscapePrompt(query string, chunks []retrieval.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString("Decide whether the context below is enough to answer the question.\n")
	sb.WriteString("Reply with exactly one word: YES or NO.\n\n")
	sb.WriteString("<context>\n")
	for i, c := range chunks {
		sb.WriteString(fmt.Sprintf("[%d] %s\n%s\n\n", i+1, c.FileName, c.Content))
	}
	sb.WriteString("</context>\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}
