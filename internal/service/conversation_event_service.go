package service

import (
	"context"
	"fmt"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/specification"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/events"
	pktNats "knowledge-assistant-be/pkg/nats"

	"github.com/google/uuid"
)

const eventModule = "ConversationEvents"

// PushDelivery pushes a realtime message to every socket of a user.
// Implemented by the websocket hub.
type PushDelivery interface {
	Send(userID uuid.UUID, eventType string, data interface{})
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType string, durableName string, handler pktNats.EventHandler) error
}

// ConversationEventService applies analyzer results to stored turns and
// forwards conversation updates to connected clients.
type ConversationEventService struct {
	uowFactory unitofwork.RepositoryFactory
	subscriber EventSubscriber
	delivery   PushDelivery
	logger     logger.ILogger
}

func NewConversationEventService(uowFactory unitofwork.RepositoryFactory, sub EventSubscriber, delivery PushDelivery, log logger.ILogger) *ConversationEventService {
	return &ConversationEventService{
		uowFactory: uowFactory,
		subscriber: sub,
		delivery:   delivery,
		logger:     log,
	}
}

func (s *ConversationEventService) Start(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, events.SourcesAnalyzed, "conversation-sources-worker", s.HandleSourcesAnalyzed); err != nil {
		return err
	}
	if err := s.subscriber.Subscribe(ctx, events.TitleUpdated, "conversation-title-push", s.HandleTitleUpdated); err != nil {
		return err
	}
	s.logger.Info(eventModule, "Conversation event service started", nil)
	return nil
}

// HandleSourcesAnalyzed stores isReferenced flags on the assistant turn.
// This is the only change made to a turn after it is final.
func (s *ConversationEventService) HandleSourcesAnalyzed(ctx context.Context, event events.Event) error {
	analysis, err := events.ParseSourcesAnalysis(event.Payload())
	if err != nil {
		// malformed payloads will never succeed; ack them
		s.logger.Warn(eventModule, "Ignoring malformed sources analysis", map[string]interface{}{"error": err.Error()})
		return nil
	}
	turnID, err := uuid.Parse(analysis.TurnID)
	if err != nil {
		s.logger.Warn(eventModule, "Ignoring sources analysis with bad turn id", map[string]interface{}{"turn_id": analysis.TurnID})
		return nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	turn, err := uow.ConversationMessageRepository().FindOne(ctx,
		specification.ByID{ID: turnID},
		specification.ByRole{Role: entity.RoleAssistant},
	)
	if err != nil {
		return fmt.Errorf("load turn %s: %w", turnID, err)
	}
	if turn == nil {
		s.logger.Warn(eventModule, "Sources analysis for unknown turn", map[string]interface{}{"turn_id": turnID})
		return nil
	}

	if len(analysis.Referenced) != len(turn.Sources) {
		s.logger.Warn(eventModule, "Reference flags do not match stored sources", map[string]interface{}{
			"turn_id": turnID,
			"flags":   len(analysis.Referenced),
			"sources": len(turn.Sources),
		})
	}
	sources := ApplyReferenceFlags(turn.Sources, analysis.Referenced)

	if err := uow.ConversationMessageRepository().UpdateSources(ctx, turnID, sources); err != nil {
		return fmt.Errorf("update sources of %s: %w", turnID, err)
	}

	if userID, err := uuid.Parse(analysis.UserID); err == nil && s.delivery != nil {
		s.delivery.Send(userID, events.SourcesAnalyzed, map[string]interface{}{
			"conversation_id": turn.ConversationId,
			"turn_id":         turnID,
			"sources":         sources,
		})
	}
	return nil
}

func (s *ConversationEventService) HandleTitleUpdated(ctx context.Context, event events.Event) error {
	payload := event.Payload()
	userID, err := uuid.Parse(fmt.Sprint(payload["user_id"]))
	if err != nil {
		return nil
	}
	if s.delivery != nil {
		s.delivery.Send(userID, events.TitleUpdated, map[string]interface{}{
			"conversation_id": payload["conversation_id"],
			"title":           payload["title"],
		})
	}
	return nil
}

// ApplyReferenceFlags copies sources and sets IsReferenced by position.
// Sources without a matching flag are left unset.
func ApplyReferenceFlags(sources []entity.MessageSource, flags []bool) []entity.MessageSource {
	out := make([]entity.MessageSource, len(sources))
	copy(out, sources)
	for i := range out {
		if i >= len(flags) {
			break
		}
		referenced := flags[i]
		out[i].IsReferenced = &referenced
	}
	return out
}
