package llm

import (
	"context"
)

// Stream returns a token stream for history. Providers without native
// streaming are adapted by running Chat and emitting the whole answer as a
// single chunk.
func Stream(ctx context.Context, provider LLMProvider, history []Message, options ...Option) (<-chan StreamChunk, error) {
	if sp, ok := provider.(StreamingProvider); ok {
		return sp.ChatStream(ctx, history, options...)
	}

	out := make(chan StreamChunk, 1)
	go func() {
		defer close(out)
		answer, err := provider.Chat(ctx, history, options...)
		if err != nil {
			out <- StreamChunk{Err: err}
			return
		}
		if answer != "" {
			out <- StreamChunk{Content: answer}
		}
	}()
	return out, nil
}

// SendChunk delivers chunk unless ctx is done first. It reports whether the
// chunk was delivered; producers stop on false.
func SendChunk(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
