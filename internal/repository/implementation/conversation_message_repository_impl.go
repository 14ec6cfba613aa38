package implementation

import (
	"context"
	"errors"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/mapper"
	"knowledge-assistant-be/internal/model"
	"knowledge-assistant-be/internal/repository/contract"
	"knowledge-assistant-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationMessageRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ConversationMapper
}

func NewConversationMessageRepository(db *gorm.DB) contract.ConversationMessageRepository {
	return &ConversationMessageRepositoryImpl{
		db:     db,
		mapper: mapper.NewConversationMapper(),
	}
}

func (r *ConversationMessageRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ConversationMessageRepositoryImpl) Create(ctx context.Context, message *entity.ConversationMessage) error {
	m := r.mapper.MessageToModel(message)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*message = *r.mapper.MessageToEntity(m)
	return nil
}

func (r *ConversationMessageRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ConversationMessage, error) {
	var m model.ConversationMessage
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.MessageToEntity(&m), nil
}

func (r *ConversationMessageRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ConversationMessage, error) {
	var models []*model.ConversationMessage
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.MessagesToEntities(models), nil
}

func (r *ConversationMessageRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.ConversationMessage{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ConversationMessageRepositoryImpl) DeleteByConversationId(ctx context.Context, conversationId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("conversation_id = ?", conversationId).Delete(&model.ConversationMessage{}).Error
}

func (r *ConversationMessageRepositoryImpl) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	return r.db.WithContext(ctx).
		Model(&model.ConversationMessage{}).
		Where("id = ?", id).
		Update("content", content).Error
}

func (r *ConversationMessageRepositoryImpl) UpdateSources(ctx context.Context, id uuid.UUID, sources []entity.MessageSource) error {
	return r.db.WithContext(ctx).
		Model(&model.ConversationMessage{}).
		Where("id = ?", id).
		Update("sources", r.mapper.SourcesToJSON(sources)).Error
}
