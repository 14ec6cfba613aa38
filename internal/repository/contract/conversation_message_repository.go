package contract

import (
	"context"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ConversationMessageRepository interface {
	Create(ctx context.Context, message *entity.ConversationMessage) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ConversationMessage, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConversationMessage, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteByConversationId(ctx context.Context, conversationId uuid.UUID) error

	// UpdateContent overwrites the whole content column. Repeating a call
	// with the same content is a no-op in effect.
	UpdateContent(ctx context.Context, id uuid.UUID, content string) error
	UpdateSources(ctx context.Context, id uuid.UUID, sources []entity.MessageSource) error
}
