package service

import (
	"context"
	"fmt"

	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/entity"
	"knowledge-assistant-be/internal/repository/specification"
	"knowledge-assistant-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

type IConversationService interface {
	Create(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.ConversationResponse, error)
	List(ctx context.Context, userId uuid.UUID) ([]*dto.ConversationResponse, error)
	Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.ConversationDetailResponse, error)
	Rename(ctx context.Context, userId uuid.UUID, req *dto.UpdateConversationRequest) (*dto.ConversationResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error
}

type conversationService struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewConversationService(uowFactory unitofwork.RepositoryFactory) IConversationService {
	return &conversationService{uowFactory: uowFactory}
}

func (s *conversationService) Create(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.ConversationResponse, error) {
	title := req.Title
	if title == "" {
		title = defaultConversationTitle
	}
	conversation := &entity.Conversation{UserId: userId, Title: title}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ConversationRepository().Create(ctx, conversation); err != nil {
		return nil, err
	}
	return toConversationResponse(conversation), nil
}

func (s *conversationService) List(ctx context.Context, userId uuid.UUID) ([]*dto.ConversationResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversations, err := uow.ConversationRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		res = append(res, toConversationResponse(c))
	}
	return res, nil
}

func (s *conversationService) Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.ConversationDetailResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversation, err := s.owned(ctx, uow, userId, id)
	if err != nil {
		return nil, err
	}

	messages, err := uow.ConversationMessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: id},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	res := &dto.ConversationDetailResponse{
		ConversationResponse: *toConversationResponse(conversation),
		Messages:             make([]dto.MessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		res.Messages = append(res.Messages, toMessageResponse(m))
	}
	return res, nil
}

func (s *conversationService) Rename(ctx context.Context, userId uuid.UUID, req *dto.UpdateConversationRequest) (*dto.ConversationResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversation, err := s.owned(ctx, uow, userId, req.Id)
	if err != nil {
		return nil, err
	}

	if err := uow.ConversationRepository().UpdateTitle(ctx, conversation.Id, req.Title); err != nil {
		return nil, err
	}
	conversation.Title = req.Title
	return toConversationResponse(conversation), nil
}

func (s *conversationService) Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if _, err := s.owned(ctx, uow, userId, id); err != nil {
		return err
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ConversationMessageRepository().DeleteByConversationId(ctx, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := uow.ConversationRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return uow.Commit()
}

func (s *conversationService) owned(ctx context.Context, uow unitofwork.UnitOfWork, userId, id uuid.UUID) (*entity.Conversation, error) {
	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

func toConversationResponse(c *entity.Conversation) *dto.ConversationResponse {
	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}
	return &dto.ConversationResponse{
		Id:        c.Id,
		Title:     c.Title,
		Topics:    topics,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toMessageResponse(m *entity.ConversationMessage) dto.MessageResponse {
	res := dto.MessageResponse{
		Id:        m.Id,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	for _, src := range m.Sources {
		res.Sources = append(res.Sources, dto.MessageSourceDTO{
			FileName:     src.FileName,
			FilePath:     src.FilePath,
			Chunk:        src.Chunk,
			Score:        src.Score,
			IsReferenced: src.IsReferenced,
		})
	}
	return res
}
