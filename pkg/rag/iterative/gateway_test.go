package iterative

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/rag/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vectorStore serves a fixed ranking: 60 chunks across 12 documents.
type vectorStore struct {
	mu    sync.Mutex
	hits  []retrieval.RetrievedChunk
	sizes []int
}

func newVectorStore() *vectorStore {
	s := &vectorStore{}
	for i := 0; i < 60; i++ {
		doc := fmt.Sprintf("notes/doc%02d.md", i/5)
		s.hits = append(s.hits, retrieval.RetrievedChunk{
			Content:    fmt.Sprintf("%s part %d", doc, i%5),
			SourceID:   doc,
			FileName:   doc,
			FilePath:   "/docs/" + doc,
			Score:      0.9 - float64(i)*0.005,
			SourceKind: retrieval.SourceFile,
		})
	}
	return s
}

func (s *vectorStore) Search(ctx context.Context, query string, maxResults int, filter retrieval.SourceFilter) ([]retrieval.RetrievedChunk, error) {
	s.mu.Lock()
	s.sizes = append(s.sizes, maxResults)
	s.mu.Unlock()
	if maxResults > len(s.hits) {
		maxResults = len(s.hits)
	}
	return append([]retrieval.RetrievedChunk(nil), s.hits[:maxResults]...), nil
}

func (s *vectorStore) CountChunks(ctx context.Context, paths []string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (s *vectorStore) lastSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizes[len(s.sizes)-1]
}

// judge always sizes the query the same way, as a real model would for a
// repeated question.
type judge struct{}

func (judge) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return "", nil
}

func (judge) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return `{"complexity":"moderate","suggested_count":10}`, nil
}

func TestRun_ExpandsThroughGateway(t *testing.T) {
	store := newVectorStore()
	gateway := retrieval.NewGateway(store, nil, judge{}, retrieval.DefaultConfig(), logger.NewNopLogger())

	initial := gateway.SmartSearch(context.Background(), "compare my notes", retrieval.AllSources(), 20)
	require.Len(t, initial, 10)

	model := &fakeModel{
		previewReply:  "NEED_MORE_CONTEXT: two of the documents are missing",
		analysisReply: `{"should_retrieve_more": true, "reason": "documents missing", "suggested_count": 8}`,
	}
	builder := &countingBuilder{}
	c := NewController(gateway, builder, model, 0, logger.NewNopLogger())

	res := c.Run(context.Background(), Input{
		Route:    slowRoute(),
		Query:    "compare my notes",
		Filter:   retrieval.AllSources(),
		Messages: assembled(),
		Chunks:   initial,
	})

	require.True(t, res.Escalated)
	assert.Equal(t, 8, res.Added)
	assert.Len(t, res.Chunks, 18)
	assert.Equal(t, 18, store.lastSize())
	assert.Equal(t, 1, builder.calls)
	assert.Equal(t, "system with 18 chunks", res.Messages[0].Content)

	seen := map[string]bool{}
	for _, ch := range res.Chunks {
		assert.False(t, seen[ch.Content], "duplicate %q", ch.Content)
		seen[ch.Content] = true
	}
	assert.Equal(t, initial, res.Chunks[:len(initial)])
}
