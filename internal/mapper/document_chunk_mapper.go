package mapper

import (
	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/model"

	"github.com/pgvector/pgvector-go"
)

type DocumentChunkMapper struct{}

func NewDocumentChunkMapper() *DocumentChunkMapper {
	return &DocumentChunkMapper{}
}

func (m *DocumentChunkMapper) ToEntity(c *model.DocumentChunk) *entity.DocumentChunk {
	if c == nil {
		return nil
	}

	return &entity.DocumentChunk{
		Id:             c.Id,
		SourceId:       c.SourceId,
		SourceKind:     c.SourceKind,
		FileName:       c.FileName,
		FilePath:       c.FilePath,
		ChunkIndex:     c.ChunkIndex,
		Content:        c.Content,
		EmbeddingValue: c.EmbeddingValue.Slice(),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      updatedAtToEntity(c.UpdatedAt),
		DeletedAt:      deletedAtToEntity(c.DeletedAt),
		IsDeleted:      c.DeletedAt.Valid,
	}
}

func (m *DocumentChunkMapper) ToModel(c *entity.DocumentChunk) *model.DocumentChunk {
	if c == nil {
		return nil
	}

	return &model.DocumentChunk{
		Id:             c.Id,
		SourceId:       c.SourceId,
		SourceKind:     c.SourceKind,
		FileName:       c.FileName,
		FilePath:       c.FilePath,
		ChunkIndex:     c.ChunkIndex,
		Content:        c.Content,
		EmbeddingValue: pgvector.NewVector(c.EmbeddingValue),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      updatedAtToModel(c.UpdatedAt),
		DeletedAt:      deletedAtToModel(c.DeletedAt, c.IsDeleted),
	}
}

func (m *DocumentChunkMapper) ToEntities(chunks []*model.DocumentChunk) []*entity.DocumentChunk {
	entities := make([]*entity.DocumentChunk, len(chunks))
	for i, c := range chunks {
		entities[i] = m.ToEntity(c)
	}
	return entities
}

func (m *DocumentChunkMapper) ToModels(chunks []*entity.DocumentChunk) []*model.DocumentChunk {
	models := make([]*model.DocumentChunk, len(chunks))
	for i, c := range chunks {
		models[i] = m.ToModel(c)
	}
	return models
}
