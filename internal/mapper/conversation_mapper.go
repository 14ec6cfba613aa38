package mapper

import (
	"encoding/json"
	"time"

	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConversationMapper struct{}

func NewConversationMapper() *ConversationMapper {
	return &ConversationMapper{}
}

func deletedAtToEntity(d gorm.DeletedAt) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func deletedAtToModel(deletedAt *time.Time, isDeleted bool) gorm.DeletedAt {
	if deletedAt != nil {
		return gorm.DeletedAt{Time: *deletedAt, Valid: true}
	}
	if isDeleted {
		return gorm.DeletedAt{Time: time.Now(), Valid: true}
	}
	return gorm.DeletedAt{}
}

func updatedAtToEntity(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func updatedAtToModel(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Malformed JSON columns map to empty values rather than failing the read.
func decodeJSONColumn(raw datatypes.JSON, v interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func encodeJSONColumn(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Conversation Mappers

func (m *ConversationMapper) ConversationToEntity(c *model.Conversation) *entity.Conversation {
	if c == nil {
		return nil
	}

	var topics []string
	decodeJSONColumn(c.Topics, &topics)

	return &entity.Conversation{
		Id:        c.Id,
		UserId:    c.UserId,
		Title:     c.Title,
		Topics:    topics,
		CreatedAt: c.CreatedAt,
		UpdatedAt: updatedAtToEntity(c.UpdatedAt),
		DeletedAt: deletedAtToEntity(c.DeletedAt),
		IsDeleted: c.DeletedAt.Valid,
	}
}

func (m *ConversationMapper) ConversationToModel(c *entity.Conversation) *model.Conversation {
	if c == nil {
		return nil
	}

	var topics datatypes.JSON
	if c.Topics != nil {
		topics = encodeJSONColumn(c.Topics)
	}

	return &model.Conversation{
		Id:        c.Id,
		UserId:    c.UserId,
		Title:     c.Title,
		Topics:    topics,
		CreatedAt: c.CreatedAt,
		UpdatedAt: updatedAtToModel(c.UpdatedAt),
		DeletedAt: deletedAtToModel(c.DeletedAt, c.IsDeleted),
	}
}

// Message Mappers

func (m *ConversationMapper) MessageToEntity(msg *model.ConversationMessage) *entity.ConversationMessage {
	if msg == nil {
		return nil
	}

	var sources []entity.MessageSource
	decodeJSONColumn(msg.Sources, &sources)

	return &entity.ConversationMessage{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Role:           msg.Role,
		Content:        msg.Content,
		Sources:        sources,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      updatedAtToEntity(msg.UpdatedAt),
		DeletedAt:      deletedAtToEntity(msg.DeletedAt),
		IsDeleted:      msg.DeletedAt.Valid,
	}
}

func (m *ConversationMapper) MessageToModel(msg *entity.ConversationMessage) *model.ConversationMessage {
	if msg == nil {
		return nil
	}

	var sources datatypes.JSON
	if msg.Sources != nil {
		sources = encodeJSONColumn(msg.Sources)
	}

	return &model.ConversationMessage{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Role:           msg.Role,
		Content:        msg.Content,
		Sources:        sources,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      updatedAtToModel(msg.UpdatedAt),
		DeletedAt:      deletedAtToModel(msg.DeletedAt, msg.IsDeleted),
	}
}

func (m *ConversationMapper) MessagesToEntities(msgs []*model.ConversationMessage) []*entity.ConversationMessage {
	entities := make([]*entity.ConversationMessage, len(msgs))
	for i, msg := range msgs {
		entities[i] = m.MessageToEntity(msg)
	}
	return entities
}

// SourcesToJSON encodes a source list for a column update.
func (m *ConversationMapper) SourcesToJSON(sources []entity.MessageSource) datatypes.JSON {
	return encodeJSONColumn(sources)
}

// TopicsToJSON encodes a topic list for a column update.
func (m *ConversationMapper) TopicsToJSON(topics []string) datatypes.JSON {
	return encodeJSONColumn(topics)
}
