package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedStream struct {
	tokens    []string
	streamErr error
	startErr  error

	title    string
	titleErr error
}

func (s *scriptedStream) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return strings.Join(s.tokens, ""), nil
}

func (s *scriptedStream) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return s.title, s.titleErr
}

func (s *scriptedStream) ChatStream(ctx context.Context, history []llm.Message, options ...llm.Option) (<-chan llm.StreamChunk, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, tok := range s.tokens {
			if !llm.SendChunk(ctx, out, llm.StreamChunk{Content: tok}) {
				return
			}
		}
		if s.streamErr != nil {
			llm.SendChunk(ctx, out, llm.StreamChunk{Err: s.streamErr})
		}
	}()
	return out, nil
}

type recordingEmitter struct {
	failAfter int // fail on this token index; -1 never
	tokens    []string
	trailers  []string
}

func newEmitter(failAfter int) *recordingEmitter {
	return &recordingEmitter{failAfter: failAfter}
}

func (e *recordingEmitter) EmitToken(token string) error {
	if e.failAfter >= 0 && len(e.tokens) == e.failAfter {
		return errors.New("broken pipe")
	}
	e.tokens = append(e.tokens, token)
	return nil
}

func (e *recordingEmitter) EmitTrailer(payload []byte) error {
	if e.failAfter >= 0 && len(e.tokens) >= e.failAfter {
		return errors.New("broken pipe")
	}
	e.trailers = append(e.trailers, string(payload))
	return nil
}

type memoryAnswers struct {
	mu     sync.Mutex
	writes []string
	stored map[string]string
	fail   int
}

func (m *memoryAnswers) PersistAnswer(ctx context.Context, turnID string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail > 0 {
		m.fail--
		return errors.New("db unavailable")
	}
	if m.stored == nil {
		m.stored = map[string]string{}
	}
	m.writes = append(m.writes, content)
	m.stored[turnID] = content
	return nil
}

func (m *memoryAnswers) last(turnID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[turnID]
}

type memoryTitles struct {
	titles map[string]string
}

func (m *memoryTitles) UpdateTitle(ctx context.Context, conversationID string, title string) error {
	if m.titles == nil {
		m.titles = map[string]string{}
	}
	m.titles[conversationID] = title
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FinalBackoff = time.Millisecond
	return cfg
}

func turn(first bool) Turn {
	return Turn{
		ConversationID:  "conv-1",
		AssistantTurnID: "turn-1",
		IsFirstMessage:  first,
		UserMessage:     "hello",
		Sources:         []SourceAttribution{{FileName: "a.md", FilePath: "/docs/a.md", Chunk: "alpha", Score: 0.9}},
	}
}

func TestRun_CompletesWithTrailer(t *testing.T) {
	model := &scriptedStream{tokens: []string{"Hel", "lo ", "", "world"}, title: "\"Greeting Chat\""}
	answers := &memoryAnswers{}
	titles := &memoryTitles{}
	emitter := newEmitter(-1)
	c := NewController(model, answers, titles, testConfig(), logger.NewNopLogger())

	out, err := c.Run(context.Background(), turn(true), nil, emitter)

	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, "Hello world", out.Content)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, emitter.tokens)
	assert.Equal(t, "Hello world", answers.last("turn-1"))
	assert.Equal(t, "Greeting Chat", titles.titles["conv-1"])
	assert.Equal(t, "Greeting Chat", out.Title)

	require.Len(t, emitter.trailers, 1)
	require.True(t, strings.HasPrefix(emitter.trailers[0], SourcesMarker))
	var trailer sourcesTrailer
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(emitter.trailers[0], SourcesMarker)), &trailer))
	assert.Equal(t, "sources", trailer.Type)
	assert.Equal(t, "conv-1", trailer.ConversationID)
	assert.Len(t, trailer.Sources, 1)
}

func TestRun_TitleOnlyOnFirstMessageAndFailureIgnored(t *testing.T) {
	t.Run("not first message", func(t *testing.T) {
		titles := &memoryTitles{}
		c := NewController(&scriptedStream{tokens: []string{"ok"}, title: "Nope"}, &memoryAnswers{}, titles, testConfig(), logger.NewNopLogger())
		_, err := c.Run(context.Background(), turn(false), nil, newEmitter(-1))
		require.NoError(t, err)
		assert.Empty(t, titles.titles)
	})

	t.Run("title failure", func(t *testing.T) {
		emitter := newEmitter(-1)
		c := NewController(&scriptedStream{tokens: []string{"ok"}, titleErr: errors.New("boom")}, &memoryAnswers{}, &memoryTitles{}, testConfig(), logger.NewNopLogger())
		out, err := c.Run(context.Background(), turn(true), nil, emitter)
		require.NoError(t, err)
		assert.Empty(t, out.Title)
		assert.Len(t, emitter.trailers, 1)
	})
}

func TestRun_DisconnectPersistsDeliveredTokens(t *testing.T) {
	tokens := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "over ", "the ", "lazy ", "dog."}

	for cut := 0; cut <= len(tokens); cut++ {
		model := &scriptedStream{tokens: tokens}
		answers := &memoryAnswers{}
		emitter := newEmitter(cut)
		cfg := testConfig()
		cfg.PersistMinChars = 5
		c := NewController(model, answers, nil, cfg, logger.NewNopLogger())

		out, err := c.Run(context.Background(), turn(false), nil, emitter)

		want := strings.Join(tokens[:cut], "")
		assert.Equal(t, want, answers.last("turn-1"), "cut at %d", cut)
		assert.Equal(t, want, out.Content)
		if cut < len(tokens) {
			assert.ErrorIs(t, err, ErrClientGone)
			assert.Equal(t, StateCancelled, out.State)
			assert.Empty(t, emitter.trailers)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestRun_StreamErrorAfterPartialOutput(t *testing.T) {
	tokens := []string{strings.Repeat("a", 50), strings.Repeat("b", 50), strings.Repeat("c", 20)}
	model := &scriptedStream{tokens: tokens, streamErr: errors.New("connection reset by peer")}
	answers := &memoryAnswers{}
	emitter := newEmitter(-1)
	c := NewController(model, answers, &memoryTitles{}, testConfig(), logger.NewNopLogger())

	out, err := c.Run(context.Background(), turn(true), nil, emitter)

	require.Error(t, err)
	assert.Equal(t, StateErrored, out.State)
	assert.Len(t, answers.last("turn-1"), 120)
	assert.Equal(t, strings.Join(tokens, ""), answers.last("turn-1"))

	require.Len(t, emitter.trailers, 1)
	assert.True(t, strings.HasPrefix(emitter.trailers[0], ErrorMarker))
	assert.NotContains(t, emitter.trailers[0], SourcesMarker)
}

func TestRun_StreamStartFailure(t *testing.T) {
	answers := &memoryAnswers{}
	emitter := newEmitter(-1)
	c := NewController(&scriptedStream{startErr: errors.New("401")}, answers, nil, testConfig(), logger.NewNopLogger())

	out, err := c.Run(context.Background(), turn(false), nil, emitter)

	require.Error(t, err)
	assert.Equal(t, StateErrored, out.State)
	assert.Equal(t, "", answers.last("turn-1"))
	require.Len(t, emitter.trailers, 1)
	assert.True(t, strings.HasPrefix(emitter.trailers[0], ErrorMarker))
}

func TestRun_StatePath(t *testing.T) {
	tests := []struct {
		name    string
		model   *scriptedStream
		emitter *recordingEmitter
		want    []State
	}{
		{"completed", &scriptedStream{tokens: []string{"a", "b"}}, newEmitter(-1), []State{StateStreaming, StateFinalizing, StateDone}},
		{"client gone", &scriptedStream{tokens: []string{"a", "b"}}, newEmitter(1), []State{StateStreaming, StateCancelled}},
		{"model error mid stream", &scriptedStream{tokens: []string{"a"}, streamErr: errors.New("reset")}, newEmitter(-1), []State{StateStreaming, StateErrored}},
		{"model never started", &scriptedStream{startErr: errors.New("401")}, newEmitter(-1), []State{StateErrored}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.model, &memoryAnswers{}, nil, testConfig(), logger.NewNopLogger())

			out, _ := c.Run(context.Background(), turn(false), nil, tt.emitter)

			assert.Equal(t, tt.want, out.Path)
			assert.Equal(t, tt.want[len(tt.want)-1], out.State)
		})
	}
}

func TestRun_IntermediateWritesArePrefixes(t *testing.T) {
	var tokens []string
	for i := 0; i < 200; i++ {
		tokens = append(tokens, "token ")
	}
	answers := &memoryAnswers{}
	cfg := testConfig()
	cfg.PersistMinChars = 30
	c := NewController(&scriptedStream{tokens: tokens}, answers, nil, cfg, logger.NewNopLogger())

	out, err := c.Run(context.Background(), turn(false), nil, newEmitter(-1))
	require.NoError(t, err)

	answers.mu.Lock()
	defer answers.mu.Unlock()
	require.NotEmpty(t, answers.writes)
	assert.Equal(t, out.Content, answers.writes[len(answers.writes)-1])
	for _, w := range answers.writes {
		assert.True(t, strings.HasPrefix(out.Content, w))
	}
}

func TestRun_FinalPersistRetries(t *testing.T) {
	answers := &memoryAnswers{fail: 2}
	cfg := testConfig()
	cfg.PersistMinChars = 0
	c := NewController(&scriptedStream{tokens: []string{"done"}}, answers, nil, cfg, logger.NewNopLogger())

	_, err := c.Run(context.Background(), turn(false), nil, newEmitter(-1))

	require.NoError(t, err)
	assert.Equal(t, "done", answers.last("turn-1"))
}

func TestRun_NonStreamingProviderFallback(t *testing.T) {
	answers := &memoryAnswers{}
	emitter := newEmitter(-1)
	c := NewController(plainModel{answer: "whole answer"}, answers, nil, testConfig(), logger.NewNopLogger())

	out, err := c.Run(context.Background(), turn(false), nil, emitter)

	require.NoError(t, err)
	assert.Equal(t, "whole answer", out.Content)
	assert.Equal(t, []string{"whole answer"}, emitter.tokens)
}

type plainModel struct{ answer string }

func (p plainModel) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	return p.answer, nil
}

func (p plainModel) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.answer, nil
}

func TestPersister_Coalesces(t *testing.T) {
	answers := &memoryAnswers{}
	p := newPersister(context.Background(), answers, "t", logger.NewNopLogger())
	for _, s := range []string{"a", "ab", "abc", "abcd"} {
		p.Enqueue(s)
	}
	p.Close()

	assert.Equal(t, "abcd", answers.last("t"))
	assert.LessOrEqual(t, len(answers.writes), 4)
}
