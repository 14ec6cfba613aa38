package dto

import (
	"time"

	"github.com/google/uuid"
)

// ChatRequest starts one turn. A nil ConversationId opens a new conversation.
type ChatRequest struct {
	ConversationId *uuid.UUID       `json:"conversation_id"`
	Message        string           `json:"message" validate:"required,max=8000"`
	Sources        *SourceFilterDTO `json:"sources,omitempty" validate:"omitempty"`
	MaxResults     int              `json:"max_results,omitempty" validate:"omitempty,min=1,max=35"`
}

// SourceFilterDTO limits which source kinds the turn may search.
type SourceFilterDTO struct {
	Mode  string   `json:"mode" validate:"omitempty,oneof=all none list"`
	Kinds []string `json:"kinds,omitempty" validate:"omitempty,dive,oneof=file ocr calendar book email"`
}

type CreateConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type UpdateConversationRequest struct {
	Id    uuid.UUID `json:"-"`
	Title string    `json:"title" validate:"required,max=200"`
}

type ConversationResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Topics    []string   `json:"topics"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type MessageSourceDTO struct {
	FileName     string  `json:"fileName"`
	FilePath     string  `json:"filePath"`
	Chunk        string  `json:"chunk"`
	Score        float64 `json:"score"`
	IsReferenced *bool   `json:"isReferenced,omitempty"`
}

type MessageResponse struct {
	Id        uuid.UUID          `json:"id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Sources   []MessageSourceDTO `json:"sources,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type ConversationDetailResponse struct {
	ConversationResponse
	Messages []MessageResponse `json:"messages"`
}

// PublishTopicExtractionMessage is queued after a completed turn.
type PublishTopicExtractionMessage struct {
	ConversationId uuid.UUID `json:"conversation_id"`
}
