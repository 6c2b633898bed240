package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/immo/internal/middleware"
	"github.com/example/immo/internal/services"
	"github.com/example/immo/internal/utils"
)

// ReservationHandler exposes reservation endpoints.
type ReservationHandler struct {
	reservations *services.ReservationService
}

// NewReservationHandler constructs ReservationHandler.
func NewReservationHandler(reservations *services.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations}
}

type createReservationRequest struct {
	PropertyID      string          `json:"property_id"`
	ReservationDate string          `json:"reservation_date"`
	Amount          decimal.Decimal `json:"amount"`
}

type payRequest struct {
	Phone  string `json:"phone"`
	Medium string `json:"medium"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CreateReservation books a property for the current user.
func (h *ReservationHandler) CreateReservation(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createReservationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	propertyID, err := uuid.Parse(req.PropertyID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid property_id")
	}

	var reservationDate time.Time
	if req.ReservationDate != "" {
		reservationDate, err = time.Parse(time.RFC3339, req.ReservationDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "reservation_date must be RFC3339")
		}
	}

	reservation, err := h.reservations.Create(c.UserContext(), userID, services.CreateReservationInput{
		PropertyID:      propertyID,
		ReservationDate: reservationDate,
		Amount:          req.Amount,
	})
	if err != nil {
		return serviceError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": reservation})
}

// ListReservations returns the current user's reservations.
func (h *ReservationHandler) ListReservations(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	reservations, total, err := h.reservations.List(c.UserContext(), userID, services.ListFilter{
		Status: c.Query("status"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       reservations,
		"pagination": pg.Meta(total),
	})
}

// GetReservation returns one reservation of the current user.
func (h *ReservationHandler) GetReservation(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := utils.ParseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	reservation, err := h.reservations.Get(c.UserContext(), userID, id)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": reservation})
}

// PayReservation starts a mobile-money collection and returns the monitoring
// session the client should poll.
func (h *ReservationHandler) PayReservation(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := utils.ParseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	reservation, session, err := h.reservations.Pay(c.UserContext(), userID, id, services.PayInput{
		Phone:  req.Phone,
		Medium: req.Medium,
		Name:   req.Name,
		Email:  req.Email,
	})
	if err != nil {
		return serviceError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"reservation": reservation,
			"session":     session.Snapshot(),
		},
	})
}

// CancelReservation cancels a pending or confirmed reservation.
func (h *ReservationHandler) CancelReservation(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := utils.ParseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req reasonRequest
	_ = c.BodyParser(&req)

	reservation, err := h.reservations.Cancel(c.UserContext(), userID, id, req.Reason)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": reservation})
}

// RefundReservation refunds a paid reservation to the payer's wallet.
func (h *ReservationHandler) RefundReservation(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := utils.ParseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var req reasonRequest
	_ = c.BodyParser(&req)

	reservation, err := h.reservations.RequestRefund(c.UserContext(), userID, id, req.Reason)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": reservation})
}
