// Package search adapts the pgvector chunk store to the retrieval gateway.
package search

import (
	"context"
	"fmt"
	"time"

	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/embedding"
	"knowledge-assistant-be/pkg/rag/retrieval"

	"github.com/patrickmn/go-cache"
)

const module = "RetrievalGateway"

type Config struct {
	// Rows below this cosine similarity are never returned.
	DBThreshold float64
	// Query embeddings are reused for this long; smart search embeds the
	// same query for the probe, the refine pass and any escalation.
	EmbeddingTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBThreshold:  0.0,
		EmbeddingTTL: 5 * time.Minute,
	}
}

// VectorSearcher implements retrieval.VectorSearcher on DocumentChunkRepository.
type VectorSearcher struct {
	uowFactory        unitofwork.RepositoryFactory
	embeddingProvider embedding.EmbeddingProvider
	embeddings        *cache.Cache
	cfg               Config
	logger            logger.ILogger
}

func NewVectorSearcher(uowFactory unitofwork.RepositoryFactory, embeddingProvider embedding.EmbeddingProvider, cfg Config, log logger.ILogger) *VectorSearcher {
	if cfg.EmbeddingTTL <= 0 {
		cfg.EmbeddingTTL = DefaultConfig().EmbeddingTTL
	}
	return &VectorSearcher{
		uowFactory:        uowFactory,
		embeddingProvider: embeddingProvider,
		embeddings:        cache.New(cfg.EmbeddingTTL, 2*cfg.EmbeddingTTL),
		cfg:               cfg,
		logger:            log,
	}
}

func (s *VectorSearcher) embed(ctx context.Context, query string) ([]float32, error) {
	if v, ok := s.embeddings.Get(query); ok {
		return v.([]float32), nil
	}
	res, err := s.embeddingProvider.Generate(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	s.embeddings.Set(query, res.Embedding.Values, cache.DefaultExpiration)
	return res.Embedding.Values, nil
}

func (s *VectorSearcher) Search(ctx context.Context, query string, maxResults int, filter retrieval.SourceFilter) ([]retrieval.RetrievedChunk, error) {
	if filter.IsNone() {
		return nil, nil
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var kinds []string
	if filter.Mode == retrieval.FilterAllowList {
		for _, k := range filter.Kinds {
			kinds = append(kinds, string(k))
		}
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	scored, err := uow.DocumentChunkRepository().SearchSimilarWithScore(ctx, vector, maxResults, kinds, s.cfg.DBThreshold)
	if err != nil {
		return nil, err
	}

	chunks := make([]retrieval.RetrievedChunk, 0, len(scored))
	for _, res := range scored {
		c := res.Chunk
		chunks = append(chunks, retrieval.RetrievedChunk{
			Content:    c.Content,
			SourceID:   c.SourceId,
			FileName:   c.FileName,
			FilePath:   c.FilePath,
			Score:      res.Similarity,
			SourceKind: retrieval.SourceKind(c.SourceKind),
		})
	}

	s.logger.Debug(module, "Vector search", map[string]interface{}{
		"requested": maxResults,
		"returned":  len(chunks),
		"kinds":     kinds,
	})
	return chunks, nil
}

func (s *VectorSearcher) CountChunks(ctx context.Context, filePaths []string) (map[string]int, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.DocumentChunkRepository().CountByFilePaths(ctx, filePaths)
}
