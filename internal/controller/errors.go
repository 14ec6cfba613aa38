package controller

import (
	"errors"

	"knowledge-assistant-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

// mapServiceError turns service sentinels into HTTP errors for the
// error handler middleware.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrServiceNotReady):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
