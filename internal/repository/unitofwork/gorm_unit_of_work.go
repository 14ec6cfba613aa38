package unitofwork

import (
	"context"
	"errors"

	"knowledge-assistant-be/internal/repository/contract"
	"knowledge-assistant-be/internal/repository/implementation"

	"gorm.io/gorm"
)

var ErrTransactionActive = errors.New("transaction already started")

type gormFactory struct {
	db *gorm.DB
}

func NewRepositoryFactory(db *gorm.DB) RepositoryFactory {
	return &gormFactory{db: db}
}

// NewUnitOfWork binds every repository it hands out to ctx.
func (f *gormFactory) NewUnitOfWork(ctx context.Context) UnitOfWork {
	return &gormUnitOfWork{db: f.db.WithContext(ctx)}
}

type gormUnitOfWork struct {
	db *gorm.DB
	tx *gorm.DB // nil outside Begin/Commit
}

func (u *gormUnitOfWork) conn() *gorm.DB {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

func (u *gormUnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return ErrTransactionActive
	}
	tx := u.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	u.tx = tx
	return nil
}

func (u *gormUnitOfWork) Commit() error {
	if u.tx == nil {
		return errors.New("commit without transaction")
	}
	err := u.tx.Commit().Error
	u.tx = nil
	return err
}

func (u *gormUnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback().Error
	u.tx = nil
	return err
}

func (u *gormUnitOfWork) ConversationRepository() contract.ConversationRepository {
	return implementation.NewConversationRepository(u.conn())
}

func (u *gormUnitOfWork) ConversationMessageRepository() contract.ConversationMessageRepository {
	return implementation.NewConversationMessageRepository(u.conn())
}

func (u *gormUnitOfWork) DocumentChunkRepository() contract.DocumentChunkRepository {
	return implementation.NewDocumentChunkRepository(u.conn())
}
