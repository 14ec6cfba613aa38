package handler

import (
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/pkg/serverutils"
	internalWS "knowledge-assistant-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RealtimeHandler upgrades authenticated clients to a websocket that
// receives conversation updates (titles, reference flags).
type RealtimeHandler struct {
	hub        *internalWS.Hub
	clientOpts internalWS.ClientOptions
	logger     logger.ILogger
}

func NewRealtimeHandler(hub *internalWS.Hub, clientOpts internalWS.ClientOptions, log logger.ILogger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:        hub,
		clientOpts: clientOpts,
		logger:     log,
	}
}

// ServeWs authenticates from the "token" query parameter (browsers cannot
// set headers on a websocket handshake) or the Authorization header.
func (h *RealtimeHandler) ServeWs(c *fiber.Ctx) error {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = serverutils.BearerToken(c)
	}
	if tokenStr == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "Missing token (query 'token' or Authorization header)")
	}

	userID, err := serverutils.ParseUserID(tokenStr)
	if err != nil {
		h.logger.Warn("RealtimeHandler", "Invalid token in websocket handshake", map[string]interface{}{"error": err.Error()})
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("RealtimeHandler", "WebSocket session started", map[string]interface{}{"user_id": userID})
		internalWS.Serve(h.hub, conn, userID, h.clientOpts)
		h.logger.Info("RealtimeHandler", "WebSocket session ended", map[string]interface{}{"user_id": userID})
	})(c)
}

func (h *RealtimeHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws", h.ServeWs)
}
