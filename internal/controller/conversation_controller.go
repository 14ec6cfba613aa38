package controller

import (
	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/pkg/serverutils"
	"knowledge-assistant-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IConversationController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	List(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Rename(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type conversationController struct {
	conversationService service.IConversationService
}

func NewConversationController(conversationService service.IConversationService) IConversationController {
	return &conversationController{
		conversationService: conversationService,
	}
}

func (c *conversationController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/conversation/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Get("", c.List)
	h.Post("", c.Create)
	h.Get(":id", c.Show)
	h.Put(":id", c.Rename)
	h.Delete(":id", c.Delete)
}

func (c *conversationController) Create(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.CreateConversationRequest
	if err := ctx.BodyParser(&req); err != nil && len(ctx.Body()) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.conversationService.Create(ctx.UserContext(), userId, &req)
	if err != nil {
		return mapServiceError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create conversation", res))
}

func (c *conversationController) List(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.conversationService.List(ctx.UserContext(), userId)
	if err != nil {
		return mapServiceError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list conversations", res))
}

func (c *conversationController) Show(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid conversation id")
	}

	res, err := c.conversationService.Show(ctx.UserContext(), userId, id)
	if err != nil {
		return mapServiceError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success show conversation", res))
}

func (c *conversationController) Rename(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid conversation id")
	}

	var req dto.UpdateConversationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.Id = id
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.conversationService.Rename(ctx.UserContext(), userId, &req)
	if err != nil {
		return mapServiceError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success rename conversation", res))
}

func (c *conversationController) Delete(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid conversation id")
	}

	if err := c.conversationService.Delete(ctx.UserContext(), userId, id); err != nil {
		return mapServiceError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete conversation", nil))
}
