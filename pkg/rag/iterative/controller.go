// Package iterative fetches extra context mid-turn when the model signals
// that the initial retrieval was not enough.
package iterative

import (
	"context"
	"strings"
	"time"

	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/ai/router"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/rag/retrieval"
)

const (
	module = "IterativeRetrieval"

	needMoreMarker = "NEED_MORE_CONTEXT"
	sufficientWord = "SUFFICIENT"
)

// Searcher is the slice of the retrieval gateway used for escalation.
// Expand returns chunks absent from existing, at most additional of them.
type Searcher interface {
	Expand(ctx context.Context, query string, filter retrieval.SourceFilter, existing []retrieval.RetrievedChunk, additional int) []retrieval.RetrievedChunk
}

// PromptBuilder renders a system prompt from chunks.
type PromptBuilder interface {
	Build(chunks []retrieval.RetrievedChunk) string
}

type Controller struct {
	searcher    Searcher
	prompts     PromptBuilder
	llmProvider llm.LLMProvider
	timeout     time.Duration
	logger      logger.ILogger
}

func NewController(searcher Searcher, prompts PromptBuilder, llmProvider llm.LLMProvider, timeout time.Duration, log logger.ILogger) *Controller {
	return &Controller{
		searcher:    searcher,
		prompts:     prompts,
		llmProvider: llmProvider,
		timeout:     timeout,
		logger:      log,
	}
}

// Input is the assembled state of a turn. Messages[0] is the system prompt.
type Input struct {
	Route    *router.QueryRoute
	Query    string
	Filter   retrieval.SourceFilter
	Messages []llm.Message
	Chunks   []retrieval.RetrievedChunk
}

type Result struct {
	Messages  []llm.Message
	Chunks    []retrieval.RetrievedChunk
	Escalated bool
	Added     int
}

func unchanged(in Input) Result {
	return Result{Messages: in.Messages, Chunks: in.Chunks}
}

// Run is best effort: every failure returns the input unchanged.
func (c *Controller) Run(ctx context.Context, in Input) Result {
	if in.Route == nil || in.Route.SkipIterativeRetrieval {
		return unchanged(in)
	}
	if len(in.Chunks) == 0 || len(in.Chunks) >= retrieval.MaxTotalChunks {
		return unchanged(in)
	}

	// upgraded routes already failed the escape check on these chunks
	draft := ""
	if !in.Route.Upgraded {
		needMore, reply := c.preview(ctx, in.Messages)
		if !needMore {
			return unchanged(in)
		}
		draft = reply
	}

	analysis := c.ShouldRetrieveMore(ctx, in.Query, draft, len(in.Chunks))
	if analysis == nil {
		metrics.Escalations.WithLabelValues("declined").Inc()
		return unchanged(in)
	}

	additional := analysis.SuggestedCount
	if room := retrieval.Remaining(len(in.Chunks)); additional > room {
		additional = room
	}

	fetched := c.searcher.Expand(ctx, in.Query, in.Filter, in.Chunks, additional)
	fresh := retrieval.Dedupe(in.Chunks, fetched)
	if len(fresh) > additional {
		fresh = fresh[:additional]
	}
	if len(fresh) == 0 {
		metrics.Escalations.WithLabelValues("no_new_chunks").Inc()
		c.logger.Info(module, "Escalation found nothing new", map[string]interface{}{"fetched": len(fetched)})
		return unchanged(in)
	}

	chunks := make([]retrieval.RetrievedChunk, 0, len(in.Chunks)+len(fresh))
	chunks = append(chunks, in.Chunks...)
	chunks = append(chunks, fresh...)
	chunks = retrieval.Cap(chunks)

	messages := make([]llm.Message, len(in.Messages))
	copy(messages, in.Messages)
	system := llm.Message{Role: llm.RoleSystem, Content: c.prompts.Build(chunks)}
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		messages[0] = system
	} else {
		messages = append([]llm.Message{system}, messages...)
	}

	metrics.Escalations.WithLabelValues("fetched").Inc()
	c.logger.Info(module, "Context expanded", map[string]interface{}{
		"before": len(in.Chunks),
		"added":  len(chunks) - len(in.Chunks),
		"reason": analysis.Reason,
	})

	return Result{
		Messages:  messages,
		Chunks:    chunks,
		Escalated: true,
		Added:     len(chunks) - len(in.Chunks),
	}
}

// preview asks for NEED_MORE_CONTEXT or SUFFICIENT over the assembled
// prompt. Failures count as sufficient.
func (c *Controller) preview(ctx context.Context, messages []llm.Message) (bool, string) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	probe := make([]llm.Message, 0, len(messages)+1)
	probe = append(probe, messages...)
	probe = append(probe, llm.Message{
		Role: llm.RoleUser,
		Content: "Before answering: is the reference material enough to answer my last question fully? " +
			"Reply " + needMoreMarker + " followed by what is missing, or " + sufficientWord + ".",
	})

	reply, err := c.llmProvider.Chat(ctx, probe, llm.WithTemperature(0), llm.WithMaxTokens(60))
	if err != nil {
		metrics.Escalations.WithLabelValues("preview_failed").Inc()
		c.logger.Warn(module, "Preview check failed", map[string]interface{}{"error": err.Error()})
		return false, ""
	}
	if !strings.Contains(reply, needMoreMarker) {
		metrics.Escalations.WithLabelValues("sufficient").Inc()
		return false, ""
	}
	return true, reply
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
