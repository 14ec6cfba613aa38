package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/specification"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/ai/pipeline"
	"knowledge-assistant-be/pkg/ai/router"
	"knowledge-assistant-be/pkg/events"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/rag/retrieval"
	"knowledge-assistant-be/pkg/rag/stream"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePreparer struct {
	inputs []pipeline.TurnInput
	chunks []retrieval.RetrievedChunk
}

func (p *fakePreparer) Prepare(ctx context.Context, in pipeline.TurnInput) *pipeline.PreparedTurn {
	p.inputs = append(p.inputs, in)
	return &pipeline.PreparedTurn{
		Route:       router.QueryRoute{Path: router.PathSlow, Reason: "default"},
		SearchQuery: in.Query,
		Chunks:      p.chunks,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "system"},
			{Role: llm.RoleUser, Content: in.Query},
		},
	}
}

type chatFixture struct {
	factory   unitofwork.RepositoryFactory
	preparer  *fakePreparer
	llm       *scriptedLLM
	publisher *recordingPublisher
	queue     *recordingQueue
	service   IChatService
}

func newChatFixture(t *testing.T, ready bool) *chatFixture {
	t.Helper()
	f := &chatFixture{
		factory: setupFactory(t),
		preparer: &fakePreparer{chunks: []retrieval.RetrievedChunk{
			{Content: "Anger is a brief madness.", FileName: "seneca.md", FilePath: "/notes/seneca.md", Score: 0.82, SourceKind: retrieval.SourceFile},
		}},
		llm: &scriptedLLM{
			answer:   "Seneca calls anger a brief madness.",
			generate: map[string]string{"short title": `"Seneca on anger"`},
		},
		publisher: &recordingPublisher{},
		queue:     &recordingQueue{},
	}

	log := logger.NewNopLogger()
	streamer := stream.NewController(f.llm, NewTurnStore(f.factory), NewTurnStore(f.factory), stream.DefaultConfig(), log)
	f.service = NewChatService(f.factory, f.preparer, streamer, f.publisher, f.queue, "topics", staticReadiness(ready), log)
	return f
}

func TestChatServiceFirstTurn(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, true)
	userID := uuid.New()

	pending, err := f.service.StartTurn(ctx, userID, &dto.ChatRequest{Message: "What does Seneca say about anger?"})
	require.NoError(t, err)
	assert.True(t, pending.IsFirstMessage)
	require.Len(t, f.preparer.inputs, 1)
	assert.Empty(t, f.preparer.inputs[0].History)
	assert.True(t, f.preparer.inputs[0].IsFirstMessage)

	emitter := &recordingEmitter{}
	outcome, err := f.service.StreamTurn(ctx, pending, emitter)
	require.NoError(t, err)
	assert.Equal(t, stream.StateDone, outcome.State)
	assert.Equal(t, "Seneca on anger", outcome.Title)
	assert.Equal(t, "Seneca calls anger a brief madness.", strings.Join(emitter.tokens, ""))
	require.True(t, strings.HasPrefix(string(emitter.trailer), stream.SourcesMarker))

	uow := f.factory.NewUnitOfWork(ctx)
	answer, err := uow.ConversationMessageRepository().FindOne(ctx, specification.ByID{ID: pending.AssistantTurnId})
	require.NoError(t, err)
	assert.Equal(t, "Seneca calls anger a brief madness.", answer.Content)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "/notes/seneca.md", answer.Sources[0].FilePath)

	conversation, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: pending.ConversationId})
	require.NoError(t, err)
	assert.Equal(t, "Seneca on anger", conversation.Title)
	assert.Equal(t, userID, conversation.UserId)

	assert.Equal(t, []string{events.TurnCompleted, events.TitleUpdated}, f.publisher.types())

	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, "topics", f.queue.topics[0])
	var queued dto.PublishTopicExtractionMessage
	require.NoError(t, json.Unmarshal(f.queue.payloads[0], &queued))
	assert.Equal(t, pending.ConversationId, queued.ConversationId)
}

func TestChatServiceFollowUpCarriesHistory(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, true)
	userID := uuid.New()

	first, err := f.service.StartTurn(ctx, userID, &dto.ChatRequest{Message: "What does Seneca say about anger?"})
	require.NoError(t, err)
	_, err = f.service.StreamTurn(ctx, first, &recordingEmitter{})
	require.NoError(t, err)

	second, err := f.service.StartTurn(ctx, userID, &dto.ChatRequest{
		ConversationId: &first.ConversationId,
		Message:        "How does he suggest handling it?",
	})
	require.NoError(t, err)
	assert.False(t, second.IsFirstMessage)
	assert.Equal(t, first.ConversationId, second.ConversationId)

	require.Len(t, f.preparer.inputs, 2)
	history := f.preparer.inputs[1].History
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	assert.Equal(t, "Seneca calls anger a brief madness.", history[1].Content)

	outcome, err := f.service.StreamTurn(ctx, second, &recordingEmitter{})
	require.NoError(t, err)
	assert.Empty(t, outcome.Title)
}

func TestChatServiceRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		f := newChatFixture(t, false)
		_, err := f.service.StartTurn(ctx, uuid.New(), &dto.ChatRequest{Message: "hi"})
		assert.ErrorIs(t, err, ErrServiceNotReady)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		f := newChatFixture(t, true)
		missing := uuid.New()
		_, err := f.service.StartTurn(ctx, uuid.New(), &dto.ChatRequest{ConversationId: &missing, Message: "hi"})
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("someone else's conversation", func(t *testing.T) {
		f := newChatFixture(t, true)
		owner := uuid.New()
		pending, err := f.service.StartTurn(ctx, owner, &dto.ChatRequest{Message: "hi"})
		require.NoError(t, err)

		_, err = f.service.StartTurn(ctx, uuid.New(), &dto.ChatRequest{ConversationId: &pending.ConversationId, Message: "hi"})
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestChatServiceStreamFailure(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, true)
	f.llm.chatErr = errors.New("model unavailable")

	pending, err := f.service.StartTurn(ctx, uuid.New(), &dto.ChatRequest{Message: "What does Seneca say about anger?"})
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	outcome, err := f.service.StreamTurn(ctx, pending, emitter)
	require.Error(t, err)
	assert.Equal(t, stream.StateErrored, outcome.State)
	assert.True(t, strings.HasPrefix(string(emitter.trailer), stream.ErrorMarker))

	assert.Empty(t, f.publisher.types())
	assert.Empty(t, f.queue.payloads)
}

func TestToSourceFilter(t *testing.T) {
	tests := []struct {
		name string
		in   *dto.SourceFilterDTO
		want retrieval.SourceFilter
	}{
		{"nil means all", nil, retrieval.AllSources()},
		{"none", &dto.SourceFilterDTO{Mode: "none"}, retrieval.NoSources()},
		{"allow list", &dto.SourceFilterDTO{Mode: "list", Kinds: []string{"file", "email"}}, retrieval.OnlySources(retrieval.SourceFile, retrieval.SourceEmail)},
		{"unknown mode", &dto.SourceFilterDTO{Mode: "weird"}, retrieval.AllSources()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toSourceFilter(tt.in))
		})
	}
}
