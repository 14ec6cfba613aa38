package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// DocumentChunk is written by the ingestion pipeline and only read here.
type DocumentChunk struct {
	Id             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SourceId       string          `gorm:"type:varchar(255);not null;index"`
	SourceKind     string          `gorm:"type:varchar(16);not null;index"`
	FileName       string          `gorm:"type:text"`
	FilePath       string          `gorm:"type:text;index"`
	ChunkIndex     int             `gorm:"default:0"`
	Content        string          `gorm:"type:text;not null"`
	EmbeddingValue pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt  `gorm:"index"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

func (c *DocumentChunk) BeforeCreate(tx *gorm.DB) error {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	return nil
}
