// Package stream turns a model token stream into an incrementally flushed
// response, persisting the answer as it grows.
package stream

import (
	"context"
	"errors"

	"knowledge-assistant-be/pkg/rag/retrieval"
)

const (
	SourcesMarker = "\n__SOURCES__:"
	ErrorMarker   = "\n__ERROR__:"

	maxAttributionChars = 500
)

// ErrClientGone is returned when the outbound transport stops accepting bytes.
var ErrClientGone = errors.New("client disconnected")

type State string

const (
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateCancelled  State = "cancelled"
	StateErrored    State = "errored"
	StateDone       State = "done"
)

// Emitter is the outbound transport. Each call must flush before returning;
// an error means the bytes did not reach the client.
type Emitter interface {
	EmitToken(token string) error
	EmitTrailer(payload []byte) error
}

// AnswerStore overwrites the content of an assistant turn. Calls with the
// same content must be harmless.
type AnswerStore interface {
	PersistAnswer(ctx context.Context, turnID string, content string) error
}

// TitleStore sets a conversation title.
type TitleStore interface {
	UpdateTitle(ctx context.Context, conversationID string, title string) error
}

type SourceAttribution struct {
	FileName     string  `json:"fileName"`
	FilePath     string  `json:"filePath"`
	Chunk        string  `json:"chunk"`
	Score        float64 `json:"score"`
	IsReferenced *bool   `json:"isReferenced,omitempty"`
}

type sourcesTrailer struct {
	Type           string              `json:"type"`
	Sources        []SourceAttribution `json:"sources"`
	ConversationID string              `json:"conversationId"`
}

type errorTrailer struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// Attributions converts the chunks a turn was answered from into the
// client-facing source list.
func Attributions(chunks []retrieval.RetrievedChunk) []SourceAttribution {
	out := make([]SourceAttribution, 0, len(chunks))
	for _, c := range chunks {
		name := c.FileName
		if name == "" {
			name = c.SourceID
		}
		text := []rune(c.Content)
		if len(text) > maxAttributionChars {
			text = append(text[:maxAttributionChars], '…')
		}
		out = append(out, SourceAttribution{
			FileName: name,
			FilePath: c.FilePath,
			Chunk:    string(text),
			Score:    c.Score,
		})
	}
	return out
}
