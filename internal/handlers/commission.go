package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/immo/internal/middleware"
	"github.com/example/immo/internal/services"
	"github.com/example/immo/internal/utils"
)

// CommissionHandler exposes agent commission payments.
type CommissionHandler struct {
	commissions *services.CommissionService
}

// NewCommissionHandler constructs CommissionHandler.
func NewCommissionHandler(commissions *services.CommissionService) *CommissionHandler {
	return &CommissionHandler{commissions: commissions}
}

type createCommissionRequest struct {
	AgentID       string          `json:"agent_id"`
	PropertyID    string          `json:"property_id"`
	ReservationID string          `json:"reservation_id"`
	Amount        decimal.Decimal `json:"amount"`
	Phone         string          `json:"phone"`
	Medium        string          `json:"medium"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
}

// CreateCommission pays an agent commission into escrow.
func (h *CommissionHandler) CreateCommission(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createCommissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	propertyID, err := uuid.Parse(req.PropertyID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid property_id")
	}

	input := services.CreateCommissionInput{
		UserID:     userID,
		PropertyID: propertyID,
		Amount:     req.Amount,
		Phone:      req.Phone,
		Medium:     req.Medium,
		Name:       req.Name,
		Email:      req.Email,
	}
	if req.AgentID != "" {
		agentID, err := uuid.Parse(req.AgentID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid agent_id")
		}
		input.AgentID = agentID
	}
	if req.ReservationID != "" {
		reservationID, err := uuid.Parse(req.ReservationID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid reservation_id")
		}
		input.ReservationID = &reservationID
	}

	commission, session, err := h.commissions.Create(c.UserContext(), input)
	if err != nil {
		return serviceError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"commission": commission,
			"session":    session.Snapshot(),
		},
	})
}

// ListCommissions returns commissions paid by the current user.
func (h *CommissionHandler) ListCommissions(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	commissions, total, err := h.commissions.List(c.UserContext(), userID, services.ListFilter{
		Status: c.Query("status"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       commissions,
		"pagination": pg.Meta(total),
	})
}

// GetCommission returns one commission of the current user.
func (h *CommissionHandler) GetCommission(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := utils.ParseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	commission, err := h.commissions.Get(c.UserContext(), userID, id)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": commission})
}
