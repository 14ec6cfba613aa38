package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/specification"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/ai/pipeline"
	"knowledge-assistant-be/pkg/events"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/rag/retrieval"
	"knowledge-assistant-be/pkg/rag/stream"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

const chatModule = "ChatService"

const defaultConversationTitle = "New conversation"

// TurnPreparer assembles the model input for one turn.
type TurnPreparer interface {
	Prepare(ctx context.Context, in pipeline.TurnInput) *pipeline.PreparedTurn
}

// TurnStreamer streams one answer to the client.
type TurnStreamer interface {
	Run(ctx context.Context, turn stream.Turn, messages []llm.Message, emitter stream.Emitter, options ...llm.Option) (stream.Outcome, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ReadinessChecker interface {
	IsInitialized() bool
}

// PendingTurn is a turn whose rows exist and whose context is assembled,
// waiting for the response stream.
type PendingTurn struct {
	UserId          uuid.UUID
	ConversationId  uuid.UUID
	AssistantTurnId uuid.UUID
	IsFirstMessage  bool
	Query           string
	Prepared        *pipeline.PreparedTurn
	startedAt       time.Time
}

type IChatService interface {
	StartTurn(ctx context.Context, userId uuid.UUID, req *dto.ChatRequest) (*PendingTurn, error)
	StreamTurn(ctx context.Context, turn *PendingTurn, emitter stream.Emitter) (stream.Outcome, error)
}

type chatService struct {
	uowFactory     unitofwork.RepositoryFactory
	preparer       TurnPreparer
	streamer       TurnStreamer
	events         EventPublisher
	topicPublisher message.Publisher
	topicName      string
	readiness      ReadinessChecker
	logger         logger.ILogger
}

// NewChatService wires the turn flow. events and topicPublisher may be nil.
func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	preparer TurnPreparer,
	streamer TurnStreamer,
	eventPublisher EventPublisher,
	topicPublisher message.Publisher,
	topicName string,
	readiness ReadinessChecker,
	log logger.ILogger,
) IChatService {
	return &chatService{
		uowFactory:     uowFactory,
		preparer:       preparer,
		streamer:       streamer,
		events:         eventPublisher,
		topicPublisher: topicPublisher,
		topicName:      topicName,
		readiness:      readiness,
		logger:         log,
	}
}

func (s *chatService) StartTurn(ctx context.Context, userId uuid.UUID, req *dto.ChatRequest) (*PendingTurn, error) {
	if s.readiness != nil && !s.readiness.IsInitialized() {
		return nil, ErrServiceNotReady
	}
	startedAt := time.Now()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	conversation, err := s.resolveConversation(ctx, uow, userId, req.ConversationId)
	if err != nil {
		return nil, err
	}

	stored, err := uow.ConversationMessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: conversation.Id},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := toHistory(stored)

	userMessage := &entity.ConversationMessage{
		ConversationId: conversation.Id,
		Role:           entity.RoleUser,
		Content:        req.Message,
	}
	if err := uow.ConversationMessageRepository().Create(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	// Empty row the stream fills in.
	assistantMessage := &entity.ConversationMessage{
		ConversationId: conversation.Id,
		Role:           entity.RoleAssistant,
	}
	if err := uow.ConversationMessageRepository().Create(ctx, assistantMessage); err != nil {
		return nil, fmt.Errorf("store assistant placeholder: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	prepared := s.preparer.Prepare(ctx, pipeline.TurnInput{
		Query:          req.Message,
		History:        history,
		IsFirstMessage: len(stored) == 0,
		Filter:         toSourceFilter(req.Sources),
		MaxResults:     req.MaxResults,
	})

	return &PendingTurn{
		UserId:          userId,
		ConversationId:  conversation.Id,
		AssistantTurnId: assistantMessage.Id,
		IsFirstMessage:  len(stored) == 0,
		Query:           req.Message,
		Prepared:        prepared,
		startedAt:       startedAt,
	}, nil
}

func (s *chatService) resolveConversation(ctx context.Context, uow unitofwork.UnitOfWork, userId uuid.UUID, id *uuid.UUID) (*entity.Conversation, error) {
	if id == nil || *id == uuid.Nil {
		conversation := &entity.Conversation{UserId: userId, Title: defaultConversationTitle}
		if err := uow.ConversationRepository().Create(ctx, conversation); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return conversation, nil
	}

	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: *id},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

func (s *chatService) StreamTurn(ctx context.Context, turn *PendingTurn, emitter stream.Emitter) (stream.Outcome, error) {
	sources := stream.Attributions(turn.Prepared.Chunks)

	outcome, err := s.streamer.Run(ctx, stream.Turn{
		ConversationID:  turn.ConversationId.String(),
		AssistantTurnID: turn.AssistantTurnId.String(),
		IsFirstMessage:  turn.IsFirstMessage,
		UserMessage:     turn.Query,
		Sources:         sources,
	}, turn.Prepared.Messages, emitter)

	metrics.TurnDuration.WithLabelValues(string(turn.Prepared.Route.Path)).Observe(time.Since(turn.startedAt).Seconds())

	if outcome.State != stream.StateDone {
		return outcome, err
	}

	// Request context may already be gone once the trailer is out.
	bg := context.WithoutCancel(ctx)
	s.storeSources(bg, turn, sources)
	s.publishCompletion(bg, turn, outcome, sources)
	s.queueTopicExtraction(turn)

	return outcome, err
}

func (s *chatService) storeSources(ctx context.Context, turn *PendingTurn, sources []stream.SourceAttribution) {
	if len(sources) == 0 {
		return
	}
	stored := make([]entity.MessageSource, 0, len(sources))
	for _, src := range sources {
		stored = append(stored, entity.MessageSource{
			FileName: src.FileName,
			FilePath: src.FilePath,
			Chunk:    src.Chunk,
			Score:    src.Score,
		})
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ConversationMessageRepository().UpdateSources(ctx, turn.AssistantTurnId, stored); err != nil {
		s.logger.Warn(chatModule, "Failed to store turn sources", map[string]interface{}{
			"turn_id": turn.AssistantTurnId,
			"error":   err.Error(),
		})
	}
}

func (s *chatService) publishCompletion(ctx context.Context, turn *PendingTurn, outcome stream.Outcome, sources []stream.SourceAttribution) {
	if s.events == nil {
		return
	}

	refs := make([]events.TurnSource, 0, len(sources))
	for _, src := range sources {
		refs = append(refs, events.TurnSource{FileName: src.FileName, FilePath: src.FilePath})
	}

	pending := []events.Event{
		events.NewTurnCompleted(turn.UserId.String(), turn.ConversationId.String(), turn.AssistantTurnId.String(), outcome.Content, refs),
	}
	if outcome.Title != "" {
		pending = append(pending, events.NewTitleUpdated(turn.UserId.String(), turn.ConversationId.String(), outcome.Title))
	}

	for _, evt := range pending {
		publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.events.Publish(publishCtx, evt)
		cancel()
		if err != nil {
			s.logger.Warn(chatModule, "Failed to publish event", map[string]interface{}{
				"event": evt.EventType(),
				"error": err.Error(),
			})
		}
	}
}

func (s *chatService) queueTopicExtraction(turn *PendingTurn) {
	if s.topicPublisher == nil {
		return
	}
	payload, err := json.Marshal(dto.PublishTopicExtractionMessage{ConversationId: turn.ConversationId})
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.topicPublisher.Publish(s.topicName, msg); err != nil {
		s.logger.Warn(chatModule, "Failed to queue topic extraction", map[string]interface{}{
			"conversation_id": turn.ConversationId,
			"error":           err.Error(),
		})
	}
}

// toHistory skips empty assistant rows left by turns that never produced
// text.
func toHistory(stored []*entity.ConversationMessage) []llm.Message {
	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		if m.Content == "" {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history
}

func toSourceFilter(f *dto.SourceFilterDTO) retrieval.SourceFilter {
	if f == nil {
		return retrieval.AllSources()
	}
	switch retrieval.FilterMode(f.Mode) {
	case retrieval.FilterNone:
		return retrieval.NoSources()
	case retrieval.FilterAllowList:
		kinds := make([]retrieval.SourceKind, 0, len(f.Kinds))
		for _, k := range f.Kinds {
			kinds = append(kinds, retrieval.SourceKind(k))
		}
		return retrieval.OnlySources(kinds...)
	default:
		return retrieval.AllSources()
	}
}
