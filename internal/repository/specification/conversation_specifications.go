package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByConversationID struct {
	ConversationID uuid.UUID
}

func (s ByConversationID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("conversation_id = ?", s.ConversationID)
}

type ByRole struct {
	Role string
}

func (s ByRole) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("role = ?", s.Role)
}

type BySourceKinds struct {
	Kinds []string
}

func (s BySourceKinds) Apply(db *gorm.DB) *gorm.DB {
	if len(s.Kinds) == 0 {
		return db
	}
	return db.Where("source_kind IN ?", s.Kinds)
}
