// Package unitofwork groups repository access behind an optional
// transaction. A UnitOfWork is short lived: one per request, stream write or
// event.
package unitofwork

import (
	"context"

	"knowledge-assistant-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	// Rollback is a no-op once Commit succeeded, so it is safe to defer.
	Rollback() error

	ConversationRepository() contract.ConversationRepository
	ConversationMessageRepository() contract.ConversationMessageRepository
	DocumentChunkRepository() contract.DocumentChunkRepository
}

type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
}
