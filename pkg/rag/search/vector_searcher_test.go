package search

import (
	"context"
	"errors"
	"testing"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/contract"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/embedding"
	"knowledge-assistant-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Generate(ctx context.Context, text string, taskType string) (*embedding.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &embedding.EmbeddingResponse{Embedding: embedding.EmbeddingResponseEmbedding{Values: []float32{1, 0}}}, nil
}

type fakeChunkRepo struct {
	contract.DocumentChunkRepository
	gotKinds []string
	gotLimit int
	results  []*contract.ScoredDocumentChunk
}

func (f *fakeChunkRepo) SearchSimilarWithScore(ctx context.Context, emb []float32, limit int, kinds []string, threshold float64) ([]*contract.ScoredDocumentChunk, error) {
	f.gotKinds = kinds
	f.gotLimit = limit
	return f.results, nil
}

func (f *fakeChunkRepo) CountByFilePaths(ctx context.Context, paths []string) (map[string]int, error) {
	return map[string]int{"/docs/a.md": 4}, nil
}

type fakeUoW struct {
	unitofwork.UnitOfWork
	chunks *fakeChunkRepo
}

func (f *fakeUoW) DocumentChunkRepository() contract.DocumentChunkRepository { return f.chunks }

type fakeFactory struct{ uow *fakeUoW }

func (f *fakeFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork { return f.uow }


func newSearcher(repo *fakeChunkRepo, emb *fakeEmbedder) *VectorSearcher {
	return NewVectorSearcher(&fakeFactory{uow: &fakeUoW{chunks: repo}}, emb, DefaultConfig(), logger.NewNopLogger())
}

func TestVectorSearcher_Search(t *testing.T) {
	repo := &fakeChunkRepo{results: []*contract.ScoredDocumentChunk{
		{Chunk: &entity.DocumentChunk{Id: uuid.New(), SourceId: "a", SourceKind: "file", FileName: "a.md", FilePath: "/docs/a.md", Content: "alpha"}, Similarity: 0.91},
		{Chunk: &entity.DocumentChunk{Id: uuid.New(), SourceId: "evt-7", SourceKind: "calendar", Content: "standup"}, Similarity: 0.55},
	}}
	emb := &fakeEmbedder{}
	s := newSearcher(repo, emb)

	chunks, err := s.Search(context.Background(), "alpha", 12, retrieval.OnlySources(retrieval.SourceFile, retrieval.SourceCalendar))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"file", "calendar"}, repo.gotKinds)
	assert.Equal(t, 12, repo.gotLimit)
	assert.Equal(t, retrieval.SourceCalendar, chunks[1].SourceKind)
	assert.True(t, chunks[1].IsVirtual())
	assert.InDelta(t, 0.91, chunks[0].Score, 1e-9)

	_, err = s.Search(context.Background(), "alpha", 5, retrieval.AllSources())
	require.NoError(t, err)
	assert.Nil(t, repo.gotKinds)
	assert.Equal(t, 1, emb.calls, "query embedding is cached")
}

func TestVectorSearcher_NoneFilterAndEmbeddingFailure(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("ollama down")}
	s := newSearcher(&fakeChunkRepo{}, emb)

	chunks, err := s.Search(context.Background(), "q", 5, retrieval.NoSources())
	assert.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Zero(t, emb.calls)

	_, err = s.Search(context.Background(), "q", 5, retrieval.AllSources())
	assert.Error(t, err)
}

func TestVectorSearcher_CountChunks(t *testing.T) {
	s := newSearcher(&fakeChunkRepo{}, &fakeEmbedder{})
	counts, err := s.CountChunks(context.Background(), []string{"/docs/a.md"})
	require.NoError(t, err)
	assert.Equal(t, 4, counts["/docs/a.md"])
}
