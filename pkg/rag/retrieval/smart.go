package retrieval

import (
	"context"
	"fmt"
	"strings"

	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/pkg/llm"

	"golang.org/x/sync/errgroup"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Judgment is the constrained-decode schema of the complexity call.
type Judgment struct {
	Complexity     Complexity `json:"complexity"`
	SuggestedCount int        `json:"suggested_count"`
}

const (
	simpleBaseCount   = 5
	moderateBaseCount = 12

	// heuristic fallback: chunks per strongly matching document
	chunksPerDocument = 3
	// a probe hit counts as strong when within this fraction of the top score
	strongScoreRatio = 0.5
)

// SmartSearch probes broadly, decides a final count in [1, maxResults] from
// the probe and a complexity judgment, then re-queries to that count.
func (g *Gateway) SmartSearch(ctx context.Context, query string, filter SourceFilter, maxResults int) []RetrievedChunk {
	if filter.IsNone() {
		return nil
	}
	maxResults = ClampMaxResults(maxResults)

	probeSize := g.cfg.ProbeSize
	if probeSize < maxResults {
		probeSize = maxResults
	}

	var (
		probe    []RetrievedChunk
		judgment *Judgment
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		probe, err = g.searcher.Search(egCtx, query, probeSize, filter)
		return err
	})
	eg.Go(func() error {
		// judgment failures never fail the group
		judgment = g.judgeComplexity(egCtx, query, maxResults)
		return nil
	})
	if err := eg.Wait(); err != nil {
		metrics.RetrievalErrors.WithLabelValues("probe").Inc()
		g.logger.Warn(module, "Smart search probe failed, continuing without context", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if len(probe) == 0 {
		metrics.RetrievedChunks.WithLabelValues("smart").Observe(0)
		return nil
	}

	count := decideCount(judgment, probe, maxResults)

	results, err := g.searcher.Search(ctx, query, count, filter)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues("refine").Inc()
		g.logger.Warn(module, "Smart search refine failed, using probe head", map[string]interface{}{"error": err.Error(), "count": count})
		results = probe
	}
	if len(results) > count {
		results = results[:count]
	}

	results = g.postProcess(ctx, results)
	metrics.RetrievedChunks.WithLabelValues("smart").Observe(float64(len(results)))

	details := map[string]interface{}{"probe": len(probe), "count": count, "returned": len(results)}
	if judgment != nil {
		details["complexity"] = judgment.Complexity
	}
	g.logger.Info(module, "Smart search done", details)
	return results
}

func (g *Gateway) judgeComplexity(ctx context.Context, query string, maxResults int) *Judgment {
	if g.llm == nil {
		return nil
	}
	if g.cfg.JudgeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.JudgeTimeout)
		defer cancel()
	}

	reply, err := g.llm.Generate(ctx, buildJudgePrompt(query, maxResults), llm.WithTemperature(0))
	if err != nil {
		g.logger.Warn(module, "Complexity judgment failed, using probe heuristic", map[string]interface{}{"error": err.Error()})
		return nil
	}

	var j Judgment
	if err := llm.DecodeJSON(reply, &j); err != nil {
		g.logger.Warn(module, "Complexity judgment unparseable, using probe heuristic", map[string]interface{}{"error": err.Error()})
		return nil
	}
	j.Complexity = Complexity(strings.ToLower(strings.TrimSpace(string(j.Complexity))))
	switch j.Complexity {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
	default:
		if j.SuggestedCount <= 0 {
			return nil
		}
	}
	return &j
}

func buildJudgePrompt(query string, maxResults int) string {
	var sb strings.Builder
	sb.WriteString("You size document retrieval for a personal knowledge base.\n")
	sb.WriteString("Judge how many excerpts the question below needs.\n")
	sb.WriteString("- simple: one fact from one document\n")
	sb.WriteString("- moderate: a few facts or one document in depth\n")
	sb.WriteString("- complex: comparison, aggregation or many documents\n\n")
	sb.WriteString(fmt.Sprintf("Reply with JSON only: {\"complexity\": \"simple|moderate|complex\", \"suggested_count\": <1-%d>}\n\n", maxResults))
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

// decideCount combines the judgment with the probe's document spread.
func decideCount(j *Judgment, probe []RetrievedChunk, maxResults int) int {
	docs := strongDocuments(probe)

	var count int
	if j == nil {
		count = docs * chunksPerDocument
	} else {
		switch {
		case j.SuggestedCount > 0:
			count = j.SuggestedCount
		case j.Complexity == ComplexitySimple:
			count = simpleBaseCount
		case j.Complexity == ComplexityModerate:
			count = moderateBaseCount
		default:
			count = maxResults
		}
		// never starve a multi-document question below one chunk per document
		if j.Complexity != ComplexitySimple && count < docs {
			count = docs
		}
	}

	if count > maxResults {
		count = maxResults
	}
	if count < minResults {
		count = minResults
	}
	return count
}

// strongDocuments counts distinct documents among hits scoring within
// strongScoreRatio of the best hit.
func strongDocuments(probe []RetrievedChunk) int {
	top := 0.0
	for _, c := range probe {
		if c.Score > top {
			top = c.Score
		}
	}
	seen := make(map[string]struct{})
	for _, c := range probe {
		if c.Score < top*strongScoreRatio {
			continue
		}
		seen[documentKey(c)] = struct{}{}
	}
	return len(seen)
}

func documentKey(c RetrievedChunk) string {
	if c.FilePath != "" {
		return c.FilePath
	}
	return string(c.SourceKind) + ":" + c.SourceID
}
