package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/immo/internal/middleware"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/services"
)

// PaymentHandler exposes monitoring sessions, cached transactions and the
// gateway callback.
type PaymentHandler struct {
	payments *services.PaymentService
	monitor  *services.Monitor
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *services.PaymentService, monitor *services.Monitor) *PaymentHandler {
	return &PaymentHandler{payments: payments, monitor: monitor}
}

type webhookRequest struct {
	TransID string `json:"transId"`
	Status  string `json:"status"`
}

// GetSession returns progress and outcome of a monitoring session.
func (h *PaymentHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": session.Snapshot()})
}

// StopSession stops monitoring. The payment itself is not cancelled at the
// gateway and may still complete.
func (h *PaymentHandler) StopSession(c *fiber.Ctx) error {
	session, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	session.Stop()
	return c.JSON(fiber.Map{"success": true, "data": session.Snapshot()})
}

// GetTransaction returns the cached transaction, refreshed from the gateway
// while it is not terminal.
func (h *PaymentHandler) GetTransaction(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	txn, err := h.payments.GetTransaction(c.UserContext(), userID, c.Params("transId"))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": txn})
}

// Webhook receives status pushes from the gateway.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.TransID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "transId is required")
	}

	status, ok := models.ParsePaymentStatus(strings.ToUpper(req.Status))
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unknown status")
	}

	if err := h.payments.HandleWebhook(c.UserContext(), req.TransID, status); err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *PaymentHandler) ownedSession(c *fiber.Ctx) (*services.Session, error) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	session, found := h.monitor.Session(c.Params("id"))
	if !found || session.Target().UserID != userID {
		return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	return session, nil
}
