package retrieval

import (
	"context"
	"errors"
	"sync"

	"knowledge-assistant-be/internal/metrics"

	"golang.org/x/sync/errgroup"
)

type documentGroup struct {
	path      string
	retrieved int
	bestScore float64
}

// postProcess replaces the chunks of small or heavily sampled file-backed
// documents with the full document content. Virtual sources are left
// alone. Any failure keeps the chunk-level content for that document.
func (g *Gateway) postProcess(ctx context.Context, chunks []RetrievedChunk) []RetrievedChunk {
	if len(chunks) == 0 || g.loader == nil {
		return chunks
	}

	groups, order := groupByDocument(chunks)
	if len(order) == 0 {
		return chunks
	}

	totals, err := g.searcher.CountChunks(ctx, order)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues("count").Inc()
		g.logger.Warn(module, "Chunk count lookup failed, keeping chunk-level content", map[string]interface{}{"error": err.Error()})
		return chunks
	}

	var candidates []string
	for _, path := range order {
		if g.shouldSubstitute(groups[path].retrieved, totals[path]) {
			candidates = append(candidates, path)
		}
	}
	if len(candidates) == 0 {
		return chunks
	}

	full := g.loadAll(ctx, candidates)
	if len(full) == 0 {
		return chunks
	}

	out := make([]RetrievedChunk, 0, len(chunks))
	emitted := make(map[string]bool, len(full))
	for _, c := range chunks {
		content, ok := full[c.FilePath]
		if c.IsVirtual() || !ok {
			out = append(out, c)
			continue
		}
		if emitted[c.FilePath] {
			continue
		}
		emitted[c.FilePath] = true
		out = append(out, RetrievedChunk{
			Content:      content,
			SourceID:     c.SourceID,
			FileName:     c.FileName,
			FilePath:     c.FilePath,
			Score:        groups[c.FilePath].bestScore,
			SourceKind:   c.SourceKind,
			FullDocument: true,
		})
	}
	return out
}

func (g *Gateway) shouldSubstitute(retrieved, total int) bool {
	if total <= 0 || retrieved <= 0 {
		return false
	}
	if total <= g.cfg.SmallDocumentChunks {
		return true
	}
	return float64(retrieved)/float64(total) > g.cfg.SignificantFraction
}

// loadAll fetches documents with bounded concurrency. Failed loads are
// logged and omitted from the result.
func (g *Gateway) loadAll(ctx context.Context, paths []string) map[string]string {
	var (
		mu   sync.Mutex
		full = make(map[string]string, len(paths))
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.LoadConcurrency)
	for _, path := range paths {
		path := path
		eg.Go(func() error {
			content, err := g.loader.LoadFullDocument(egCtx, path)
			if err != nil {
				result := "error"
				if errors.Is(err, ErrDocumentNotFound) {
					result = "not_found"
				}
				metrics.FullDocumentSubstitutions.WithLabelValues(result).Inc()
				g.logger.Warn(module, "Full document load failed, keeping chunks", map[string]interface{}{"path": path, "error": err.Error()})
				return nil
			}
			if content == "" {
				return nil
			}
			metrics.FullDocumentSubstitutions.WithLabelValues("substituted").Inc()
			mu.Lock()
			full[path] = content
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return full
}

// groupByDocument counts retrieved chunks per file-backed document, keeping
// first-appearance order.
func groupByDocument(chunks []RetrievedChunk) (map[string]*documentGroup, []string) {
	groups := make(map[string]*documentGroup)
	var order []string
	for _, c := range chunks {
		if c.IsVirtual() {
			continue
		}
		grp, ok := groups[c.FilePath]
		if !ok {
			grp = &documentGroup{path: c.FilePath, bestScore: c.Score}
			groups[c.FilePath] = grp
			order = append(order, c.FilePath)
		}
		grp.retrieved++
		if c.Score > grp.bestScore {
			grp.bestScore = c.Score
		}
	}
	return groups, order
}
