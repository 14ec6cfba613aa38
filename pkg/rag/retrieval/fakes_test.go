package retrieval

import (
	"context"
	"fmt"
	"sync"

	"knowledge-assistant-be/pkg/llm"
)

type fakeSearcher struct {
	mu       sync.Mutex
	hits     []RetrievedChunk
	totals   map[string]int
	err      error
	countErr error
	calls    []int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int, filter SourceFilter) ([]RetrievedChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, maxResults)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []RetrievedChunk
	for _, h := range f.hits {
		if !filter.Allows(h.SourceKind) {
			continue
		}
		out = append(out, h)
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (f *fakeSearcher) CountChunks(ctx context.Context, filePaths []string) (map[string]int, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	out := make(map[string]int, len(filePaths))
	for _, p := range filePaths {
		if n, ok := f.totals[p]; ok {
			out[p] = n
		}
	}
	return out, nil
}

func (f *fakeSearcher) searchCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type fakeLoader struct {
	mu    sync.Mutex
	docs  map[string]string
	calls []string
}

func (f *fakeLoader) LoadFullDocument(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	content, ok := f.docs[path]
	if !ok {
		return "", fmt.Errorf("load %s: %w", path, ErrDocumentNotFound)
	}
	return content, nil
}

func (f *fakeLoader) loaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return f.reply, f.err
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return f.reply, f.err
}

func fileChunk(path string, i int, score float64) RetrievedChunk {
	return RetrievedChunk{
		Content:    fmt.Sprintf("%s chunk %d", path, i),
		SourceID:   path,
		FileName:   path,
		FilePath:   "/docs/" + path,
		Score:      score,
		SourceKind: SourceFile,
	}
}
