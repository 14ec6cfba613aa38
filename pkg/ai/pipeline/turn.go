// Package pipeline assembles the context for one conversation turn: route,
// rephrase, retrieve, fit history, build the prompt and optionally escalate.
package pipeline

import (
	"context"
	"time"

	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/ai/router"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/rag/iterative"
	"knowledge-assistant-be/pkg/rag/prompt"
	"knowledge-assistant-be/pkg/rag/rephrase"
	"knowledge-assistant-be/pkg/rag/retrieval"
	"knowledge-assistant-be/pkg/rag/window"
	"knowledge-assistant-be/pkg/tokens"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const module = "QueryRouter"

var tracer = otel.Tracer("knowledge-assistant-be/pipeline")

// Retriever is the retrieval gateway as seen by the pipeline.
type Retriever interface {
	DirectSearch(ctx context.Context, query string, filter retrieval.SourceFilter, maxResults int) []retrieval.RetrievedChunk
	SmartSearch(ctx context.Context, query string, filter retrieval.SourceFilter, maxResults int) []retrieval.RetrievedChunk
	MaxResults() int
}

type Config struct {
	MaxContextTokens int
	Strategy         window.Strategy
	WindowSize       int
}

type Pipeline struct {
	retriever Retriever
	escape    *router.EscapeHatch
	rephraser *rephrase.Rephraser
	window    *window.Manager
	prompts   *prompt.SystemBuilder
	iterative *iterative.Controller
	cfg       Config
	logger    logger.ILogger
}

func New(
	retriever Retriever,
	escape *router.EscapeHatch,
	rephraser *rephrase.Rephraser,
	windowManager *window.Manager,
	prompts *prompt.SystemBuilder,
	iterativeController *iterative.Controller,
	cfg Config,
	log logger.ILogger,
) *Pipeline {
	return &Pipeline{
		retriever: retriever,
		escape:    escape,
		rephraser: rephraser,
		window:    windowManager,
		prompts:   prompts,
		iterative: iterativeController,
		cfg:       cfg,
		logger:    log,
	}
}

// TurnInput is one user message plus the persisted history before it.
type TurnInput struct {
	Query          string
	History        []llm.Message
	IsFirstMessage bool
	Filter         retrieval.SourceFilter
	// MaxResults overrides the smart-search ceiling when positive.
	MaxResults int
}

// PreparedTurn is ready to hand to the response stream.
type PreparedTurn struct {
	Route       router.QueryRoute
	SearchQuery string
	Chunks      []retrieval.RetrievedChunk
	Messages    []llm.Message
	Summary     string
	Escalated   bool
	Elapsed     time.Duration
}

// Prepare never fails: every stage degrades on its own.
func (p *Pipeline) Prepare(ctx context.Context, in TurnInput) *PreparedTurn {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.Prepare")
	defer span.End()

	route := router.Classify(router.ExtractFeatures(in.Query, in.IsFirstMessage, in.History))
	metrics.RouteDecisions.WithLabelValues(string(route.Path), route.Reason).Inc()

	searchQuery := in.Query
	if !route.SkipRephrasing {
		searchQuery = p.rephraser.Rephrase(ctx, in.Query, in.History)
	}

	var chunks []retrieval.RetrievedChunk
	if route.Path == router.PathFast {
		chunks = p.retriever.DirectSearch(ctx, searchQuery, in.Filter, in.MaxResults)
		p.escape.Check(ctx, &route, in.Query, chunks)
	} else {
		maxResults := in.MaxResults
		if maxResults <= 0 {
			maxResults = p.retriever.MaxResults()
		}
		chunks = p.retriever.SmartSearch(ctx, searchQuery, in.Filter, retrieval.ClampMaxResults(maxResults))
	}
	chunks = retrieval.Cap(chunks)

	systemPrompt := p.prompts.Build(chunks)
	fitted, messages := p.assemble(ctx, in, systemPrompt)

	escalation := p.iterative.Run(ctx, iterative.Input{
		Route:    &route,
		Query:    searchQuery,
		Filter:   in.Filter,
		Messages: messages,
		Chunks:   chunks,
	})

	refitted := false
	if escalation.Escalated {
		expanded := escalation.Messages[0].Content
		if tokens.Estimate(expanded)+fitted.EstimatedTokens() > p.cfg.MaxContextTokens {
			fitted, escalation.Messages = p.assemble(ctx, in, expanded)
			refitted = true
		}
	}

	turn := &PreparedTurn{
		Route:       route,
		SearchQuery: searchQuery,
		Chunks:      escalation.Chunks,
		Messages:    escalation.Messages,
		Summary:     fitted.Summary,
		Escalated:   escalation.Escalated,
		Elapsed:     time.Since(started),
	}

	span.SetAttributes(
		attribute.String("route.path", string(route.Path)),
		attribute.String("route.reason", route.Reason),
		attribute.Int("chunks", len(turn.Chunks)),
		attribute.Bool("escalated", turn.Escalated),
	)

	p.logger.Info(module, "Turn context prepared", map[string]interface{}{
		"path":      string(route.Path),
		"reason":    route.Reason,
		"upgraded":  route.Upgraded,
		"chunks":    len(turn.Chunks),
		"messages":  len(turn.Messages),
		"trimmed":   fitted.Trimmed,
		"escalated": turn.Escalated,
		"refitted":  refitted,
		"elapsed":   turn.Elapsed.String(),
	})
	return turn
}

// assemble fits history against systemPrompt and lays out the model input:
// system prompt, optional summary, history, then the current query.
func (p *Pipeline) assemble(ctx context.Context, in TurnInput, systemPrompt string) (window.Result, []llm.Message) {
	budget := window.NewBudget(p.cfg.MaxContextTokens, systemPrompt, p.cfg.Strategy, p.cfg.WindowSize)
	fitted := p.window.Fit(ctx, in.History, budget)

	messages := make([]llm.Message, 0, len(fitted.Messages)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	if summary, ok := fitted.SummaryMessage(); ok {
		messages = append(messages, summary)
	}
	messages = append(messages, fitted.Messages...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Query})
	return fitted, messages
}
