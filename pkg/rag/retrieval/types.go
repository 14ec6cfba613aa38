// Package retrieval produces ordered chunk lists for a query using either a
// direct top-K vector search or a two-stage smart search.
package retrieval

import (
	"context"
	"errors"
)

// MaxTotalChunks is the hard ceiling on distinct chunks assembled into one
// turn's prompt, at initial retrieval and after every escalation.
const MaxTotalChunks = 35

const minResults = 1

// ErrDocumentNotFound is returned by a DocumentLoader when the path is missing.
var ErrDocumentNotFound = errors.New("document not found")

type SourceKind string

const (
	SourceFile     SourceKind = "file"
	SourceOCR      SourceKind = "ocr"
	SourceCalendar SourceKind = "calendar"
	SourceBook     SourceKind = "book"
	SourceEmail    SourceKind = "email"
)

// FileBacked reports whether records of this kind have a loadable file.
func (k SourceKind) FileBacked() bool {
	return k == SourceFile
}

// RetrievedChunk lives only for one turn's context assembly.
type RetrievedChunk struct {
	Content    string     `json:"content"`
	SourceID   string     `json:"sourceId"`
	FileName   string     `json:"fileName"`
	FilePath   string     `json:"filePath"`
	Score      float64    `json:"score"`
	SourceKind SourceKind `json:"sourceKind"`

	// FullDocument is set when Content holds the whole document.
	FullDocument bool `json:"fullDocument,omitempty"`
}

// IsVirtual reports whether the chunk has no underlying file to load.
func (c RetrievedChunk) IsVirtual() bool {
	return !c.SourceKind.FileBacked() || c.FilePath == ""
}

type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterNone      FilterMode = "none"
	FilterAllowList FilterMode = "list"
)

// SourceFilter restricts which source kinds a search may return.
type SourceFilter struct {
	Mode  FilterMode   `json:"mode"`
	Kinds []SourceKind `json:"kinds,omitempty"`
}

func AllSources() SourceFilter { return SourceFilter{Mode: FilterAll} }

func NoSources() SourceFilter { return SourceFilter{Mode: FilterNone} }

func OnlySources(kinds ...SourceKind) SourceFilter {
	return SourceFilter{Mode: FilterAllowList, Kinds: kinds}
}

// IsNone reports whether the filter admits nothing.
func (f SourceFilter) IsNone() bool {
	return f.Mode == FilterNone || (f.Mode == FilterAllowList && len(f.Kinds) == 0)
}

// Allows reports whether kind passes the filter. The zero filter allows all.
func (f SourceFilter) Allows(kind SourceKind) bool {
	switch f.Mode {
	case FilterNone:
		return false
	case FilterAllowList:
		for _, k := range f.Kinds {
			if k == kind {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// ClampMaxResults bounds a requested result count to [1, MaxTotalChunks].
func ClampMaxResults(n int) int {
	if n < minResults {
		return minResults
	}
	if n > MaxTotalChunks {
		return MaxTotalChunks
	}
	return n
}

// VectorSearcher is the vector search collaborator.
type VectorSearcher interface {
	Search(ctx context.Context, query string, maxResults int, filter SourceFilter) ([]RetrievedChunk, error)

	// CountChunks returns the total indexed chunk count per file path.
	// Paths with no chunks may be absent from the map.
	CountChunks(ctx context.Context, filePaths []string) (map[string]int, error)
}

// DocumentLoader loads full document content for substitution. It returns
// ErrDocumentNotFound when the path is missing.
type DocumentLoader interface {
	LoadFullDocument(ctx context.Context, path string) (string, error)
}
