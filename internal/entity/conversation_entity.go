package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	Id        uuid.UUID
	UserId    uuid.UUID
	Title     string
	Topics    []string
	CreatedAt time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
	IsDeleted bool
}

type ConversationMessage struct {
	Id             uuid.UUID
	ConversationId uuid.UUID
	Role           string
	Content        string
	Sources        []MessageSource
	CreatedAt      time.Time
	UpdatedAt      *time.Time
	DeletedAt      *time.Time
	IsDeleted      bool
}

// MessageSource is one persisted source attribution of an assistant turn.
type MessageSource struct {
	FileName     string  `json:"fileName"`
	FilePath     string  `json:"filePath"`
	Chunk        string  `json:"chunk"`
	Score        float64 `json:"score"`
	IsReferenced *bool   `json:"isReferenced,omitempty"`
}
