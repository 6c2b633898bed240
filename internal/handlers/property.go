package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/immo/internal/middleware"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/utils"
)

// PropertyHandler manages property listings.
type PropertyHandler struct {
	db *gorm.DB
}

// NewPropertyHandler constructs PropertyHandler.
func NewPropertyHandler(db *gorm.DB) *PropertyHandler {
	return &PropertyHandler{db: db}
}

type createPropertyRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	ListingType string          `json:"listing_type"`
	City        string          `json:"city"`
	Address     string          `json:"address"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Bedrooms    int             `json:"bedrooms"`
	Bathrooms   int             `json:"bathrooms"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
}

// ListProperties returns listings filtered by city, status and listing type.
func (h *PropertyHandler) ListProperties(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Property{})

	if city := strings.TrimSpace(c.Query("city")); city != "" {
		query = query.Where("LOWER(city) = ?", strings.ToLower(city))
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if listingType := strings.TrimSpace(c.Query("listing_type")); listingType != "" {
		query = query.Where("listing_type = ?", listingType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var properties []models.Property
	if err := query.Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&properties).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       properties,
		"pagination": pg.Meta(total),
	})
}

// GetProperty returns a single listing with its agent.
func (h *PropertyHandler) GetProperty(c *fiber.Ctx) error {
	id, err := utils.ParseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	var property models.Property
	if err := h.db.Preload("Agent").First(&property, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "property not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": property})
}

// CreateProperty publishes a listing owned by the calling agent.
func (h *PropertyHandler) CreateProperty(c *fiber.Ctx) error {
	agentID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createPropertyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.City) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title and city are required")
	}
	if !req.Price.IsPositive() {
		return fiber.NewError(fiber.StatusBadRequest, "price must be greater than zero")
	}

	currency := req.Currency
	if currency == "" {
		currency = "XAF"
	}

	property := models.Property{
		AgentID:     agentID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Type:        req.Type,
		ListingType: req.ListingType,
		City:        strings.TrimSpace(req.City),
		Address:     req.Address,
		Price:       req.Price.Round(2),
		Currency:    currency,
		Bedrooms:    req.Bedrooms,
		Bathrooms:   req.Bathrooms,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Status:      models.PropertyAvailable,
	}

	if err := h.db.Create(&property).Error; err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": property})
}
