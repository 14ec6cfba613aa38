package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corpus spreads n chunks over documents of perDoc chunks, scores descending.
func corpus(n, perDoc int) []RetrievedChunk {
	out := make([]RetrievedChunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fileChunk(fmt.Sprintf("doc%02d.md", i/perDoc), i%perDoc, 0.9-float64(i)*0.005))
	}
	return out
}

func TestExpand_ReturnsOnlyUnseenChunks(t *testing.T) {
	hits := corpus(60, 5)
	s := &fakeSearcher{hits: hits}
	// the judge would pick the same count again; Expand must not ask it
	g := newTestGateway(s, nil, &fakeLLM{reply: `{"complexity":"moderate","suggested_count":10}`})

	existing := hits[:10]
	out := g.Expand(context.Background(), "q", AllSources(), existing, 8)

	require.Len(t, out, 8)
	assert.Equal(t, []int{18}, s.searchCalls())
	assert.Equal(t, out, Dedupe(existing, out), "no overlap with existing")
	assert.Equal(t, hits[10:18], out)
}

func TestExpand_CeilingHolds(t *testing.T) {
	s := &fakeSearcher{hits: corpus(100, 5)}
	g := newTestGateway(s, nil, nil)

	existing := corpus(30, 5)
	out := g.Expand(context.Background(), "q", AllSources(), existing, 50)

	assert.Len(t, out, MaxTotalChunks-len(existing))
	assert.Equal(t, []int{MaxTotalChunks}, s.searchCalls())
}

func TestExpand_SkipsDocumentsAlreadyWhole(t *testing.T) {
	hits := corpus(20, 5)
	s := &fakeSearcher{hits: hits}
	g := newTestGateway(s, nil, nil)

	existing := []RetrievedChunk{{
		Content:      "all of doc00",
		FileName:     "doc00.md",
		FilePath:     "/docs/doc00.md",
		SourceKind:   SourceFile,
		FullDocument: true,
	}}
	out := g.Expand(context.Background(), "q", AllSources(), existing, 4)

	for _, c := range out {
		assert.NotEqual(t, "/docs/doc00.md", c.FilePath)
	}
}

func TestExpand_NothingToDo(t *testing.T) {
	tests := []struct {
		name       string
		searcher   *fakeSearcher
		filter     SourceFilter
		existing   []RetrievedChunk
		additional int
	}{
		{name: "none filter", searcher: &fakeSearcher{hits: corpus(10, 5)}, filter: NoSources(), additional: 3},
		{name: "zero additional", searcher: &fakeSearcher{hits: corpus(10, 5)}, filter: AllSources()},
		{name: "at ceiling", searcher: &fakeSearcher{hits: corpus(50, 5)}, filter: AllSources(), existing: corpus(35, 5), additional: 3},
		{name: "search error", searcher: &fakeSearcher{err: errors.New("down")}, filter: AllSources(), additional: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(tt.searcher, nil, nil)
			assert.Empty(t, g.Expand(context.Background(), "q", tt.filter, tt.existing, tt.additional))
		})
	}
}
