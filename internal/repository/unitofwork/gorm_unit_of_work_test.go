package unitofwork

import (
	"context"
	"testing"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/model"
	"knowledge-assistant-be/internal/repository/specification"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newFactory(t *testing.T) RepositoryFactory {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.ConversationMessage{}))
	return NewRepositoryFactory(db)
}

func TestUnitOfWork(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)

	countFor := func(userID uuid.UUID) int64 {
		n, err := factory.NewUnitOfWork(ctx).ConversationRepository().Count(ctx, specification.UserOwnedBy{UserID: userID})
		require.NoError(t, err)
		return n
	}

	t.Run("commit persists", func(t *testing.T) {
		userID := uuid.New()
		uow := factory.NewUnitOfWork(ctx)
		require.NoError(t, uow.Begin(ctx))
		require.NoError(t, uow.ConversationRepository().Create(ctx, &entity.Conversation{UserId: userID, Title: "a"}))
		require.NoError(t, uow.Commit())
		assert.NoError(t, uow.Rollback(), "rollback after commit is a no-op")
		assert.Equal(t, int64(1), countFor(userID))
	})

	t.Run("rollback discards", func(t *testing.T) {
		userID := uuid.New()
		uow := factory.NewUnitOfWork(ctx)
		require.NoError(t, uow.Begin(ctx))
		require.NoError(t, uow.ConversationRepository().Create(ctx, &entity.Conversation{UserId: userID, Title: "b"}))
		require.NoError(t, uow.Rollback())
		assert.Zero(t, countFor(userID))
	})

	t.Run("nested begin is rejected", func(t *testing.T) {
		uow := factory.NewUnitOfWork(ctx)
		require.NoError(t, uow.Begin(ctx))
		defer uow.Rollback()
		assert.ErrorIs(t, uow.Begin(ctx), ErrTransactionActive)
	})

	t.Run("commit without begin fails", func(t *testing.T) {
		assert.Error(t, factory.NewUnitOfWork(ctx).Commit())
	})
}
