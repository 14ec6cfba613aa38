package service

import (
	"context"
	"fmt"

	"knowledge-assistant-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// TurnStore persists streamed answers and generated titles. It is the
// storage side of the response stream.
type TurnStore struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewTurnStore(uowFactory unitofwork.RepositoryFactory) *TurnStore {
	return &TurnStore{uowFactory: uowFactory}
}

// PersistAnswer overwrites the assistant turn content.
func (s *TurnStore) PersistAnswer(ctx context.Context, turnID string, content string) error {
	id, err := uuid.Parse(turnID)
	if err != nil {
		return fmt.Errorf("invalid turn id %q: %w", turnID, err)
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ConversationMessageRepository().UpdateContent(ctx, id, content)
}

func (s *TurnStore) UpdateTitle(ctx context.Context, conversationID string, title string) error {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q: %w", conversationID, err)
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ConversationRepository().UpdateTitle(ctx, id, title)
}
