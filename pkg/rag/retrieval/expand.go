package retrieval

import (
	"context"

	"knowledge-assistant-be/internal/metrics"
)

// Expand fetches up to additional chunks not already in existing. It
// re-queries to exactly len(existing)+additional, capped at MaxTotalChunks,
// with no new complexity judgment: the caller already decided how much
// more it wants. Chunks of documents present in full are skipped, and the
// new chunks stay chunk-level.
func (g *Gateway) Expand(ctx context.Context, query string, filter SourceFilter, existing []RetrievedChunk, additional int) []RetrievedChunk {
	if filter.IsNone() {
		return nil
	}
	if room := Remaining(len(existing)); additional > room {
		additional = room
	}
	if additional <= 0 {
		return nil
	}

	total := len(existing) + additional
	hits, err := g.searcher.Search(ctx, query, total, filter)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues("expand").Inc()
		g.logger.Warn(module, "Expansion search failed", map[string]interface{}{"error": err.Error(), "requested": total})
		return nil
	}

	whole := make(map[string]bool)
	for _, c := range existing {
		if c.FullDocument && c.FilePath != "" {
			whole[c.FilePath] = true
		}
	}
	candidates := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if !h.IsVirtual() && whole[h.FilePath] {
			continue
		}
		candidates = append(candidates, h)
	}

	fresh := Dedupe(existing, candidates)
	if len(fresh) > additional {
		fresh = fresh[:additional]
	}
	metrics.RetrievedChunks.WithLabelValues("expand").Observe(float64(len(fresh)))
	g.logger.Debug(module, "Expansion done", map[string]interface{}{
		"requested": total,
		"hits":      len(hits),
		"fresh":     len(fresh),
	})
	return fresh
}
