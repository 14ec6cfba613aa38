package controller

import (
	"bufio"
	"context"
	"errors"

	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/pkg/serverutils"
	"knowledge-assistant-be/internal/service"
	"knowledge-assistant-be/pkg/rag/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	Stream(ctx *fiber.Ctx) error
}

type chatController struct {
	chatService service.IChatService
	logger      logger.ILogger
}

func NewChatController(chatService service.IChatService, log logger.ILogger) IChatController {
	return &chatController{
		chatService: chatService,
		logger:      log,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Post("stream", c.Stream)
}

// Stream answers with a chunked text body: answer tokens, then exactly one
// trailer (sources or error marker).
func (c *chatController) Stream(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.ChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	pending, err := c.chatService.StartTurn(ctx.UserContext(), userId, &req)
	if err != nil {
		return mapServiceError(err)
	}

	// The body writer runs after this handler returns, when the fiber
	// context is recycled; keep only the request's context.
	reqCtx := context.WithoutCancel(ctx.UserContext())

	ctx.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set("X-Accel-Buffering", "no")
	ctx.Set("X-Conversation-Id", pending.ConversationId.String())

	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithCancel(reqCtx)
		defer cancel()

		emitter := &flushEmitter{w: w}
		outcome, err := c.chatService.StreamTurn(streamCtx, pending, emitter)
		if err != nil && !errors.Is(err, stream.ErrClientGone) {
			c.logger.Warn("ChatController", "Turn ended with error", map[string]interface{}{
				"conversation_id": pending.ConversationId,
				"state":           string(outcome.State),
				"error":           err.Error(),
			})
		}
	}))
	return nil
}

// flushEmitter writes straight to the connection. A failed flush means the
// client went away.
type flushEmitter struct {
	w *bufio.Writer
}

func (e *flushEmitter) EmitToken(token string) error {
	if _, err := e.w.WriteString(token); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *flushEmitter) EmitTrailer(payload []byte) error {
	if _, err := e.w.Write(payload); err != nil {
		return err
	}
	return e.w.Flush()
}
