package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/services"
)

// serviceError maps domain errors onto HTTP errors. Unknown errors pass
// through and end up as 500s in ErrorHandler.
func serviceError(err error) error {
	var gwErr *services.GatewayError
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrFractionalAmount),
		errors.Is(err, services.ErrPhoneRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPropertyNotFound),
		errors.Is(err, services.ErrReservationNotFound),
		errors.Is(err, services.ErrCommissionNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrTransactionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrPropertyUnavailable),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrConcurrentUpdate):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.As(err, &gwErr):
		logging.Warn("payment gateway error", zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "payment provider unavailable, please try again")
	}
	return err
}

// ErrorHandler renders every error as a JSON envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	} else {
		logging.Error("unhandled request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
