package contract

import (
	"context"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/repository/specification"
)

// ScoredDocumentChunk wraps DocumentChunk with its cosine similarity.
type ScoredDocumentChunk struct {
	Chunk      *entity.DocumentChunk
	Similarity float64
}

type DocumentChunkRepository interface {
	CreateBulk(ctx context.Context, chunks []*entity.DocumentChunk) error
	DeleteByFilePath(ctx context.Context, filePath string) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)

	// SearchSimilarWithScore orders by cosine similarity. An empty kinds
	// slice means every source kind.
	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int, kinds []string, threshold float64) ([]*ScoredDocumentChunk, error)
	// CountByFilePaths returns the total chunk count per path. Paths with
	// no chunks are absent from the map.
	CountByFilePaths(ctx context.Context, paths []string) (map[string]int, error)
}
