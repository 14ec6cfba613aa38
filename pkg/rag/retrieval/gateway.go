package retrieval

import (
	"context"
	"time"

	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"
)

const module = "RetrievalGateway"

// Config tunes both retrieval algorithms and post-processing.
type Config struct {
	DirectK    int // top-K for the fast path
	ProbeSize  int // broad probe size for smart search stage one
	MaxResults int // default ceiling for smart search

	SmallDocumentChunks int     // documents this small are always substituted
	SignificantFraction float64 // substitute when retrieved/total exceeds this

	JudgeTimeout    time.Duration
	LoadConcurrency int
}

func DefaultConfig() Config {
	return Config{
		DirectK:             5,
		ProbeSize:           40,
		MaxResults:          20,
		SmallDocumentChunks: 5,
		SignificantFraction: 0.30,
		JudgeTimeout:        15 * time.Second,
		LoadConcurrency:     4,
	}
}

// Gateway wraps direct and smart search behind one interface. Every failure
// is recovered locally: callers get degraded or empty results, never errors.
type Gateway struct {
	searcher VectorSearcher
	loader   DocumentLoader
	llm      llm.LLMProvider
	cfg      Config
	logger   logger.ILogger
}

func NewGateway(searcher VectorSearcher, loader DocumentLoader, llmProvider llm.LLMProvider, cfg Config, log logger.ILogger) *Gateway {
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = 1
	}
	return &Gateway{
		searcher: searcher,
		loader:   loader,
		llm:      llmProvider,
		cfg:      cfg,
		logger:   log,
	}
}

// MaxResults is the configured smart-search ceiling, clamped.
func (g *Gateway) MaxResults() int {
	return ClampMaxResults(g.cfg.MaxResults)
}

// DirectSearch runs one top-K vector query with K fixed and small. A
// positive maxResults, clamped to [1, MaxTotalChunks], can only lower K.
func (g *Gateway) DirectSearch(ctx context.Context, query string, filter SourceFilter, maxResults int) []RetrievedChunk {
	if filter.IsNone() {
		return nil
	}

	k := ClampMaxResults(g.cfg.DirectK)
	if maxResults > 0 {
		if limit := ClampMaxResults(maxResults); limit < k {
			k = limit
		}
	}
	chunks, err := g.searcher.Search(ctx, query, k, filter)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues("direct").Inc()
		g.logger.Warn(module, "Direct search failed, continuing without context", map[string]interface{}{"error": err.Error()})
		return nil
	}

	chunks = g.postProcess(ctx, Cap(chunks))
	metrics.RetrievedChunks.WithLabelValues("direct").Observe(float64(len(chunks)))
	g.logger.Debug(module, "Direct search done", map[string]interface{}{"k": k, "returned": len(chunks)})
	return chunks
}
