package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Property statuses.
const (
	PropertyAvailable = "available"
	PropertyReserved  = "reserved"
	PropertySold      = "sold"
	PropertyRented    = "rented"
)

// Property is a listing published by an agent.
type Property struct {
	BaseModel
	AgentID     uuid.UUID       `gorm:"type:uuid;index" json:"agent_id"`
	Agent       *User           `json:"agent,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	ListingType string          `json:"listing_type"`
	City        string          `gorm:"index" json:"city"`
	Address     string          `json:"address"`
	Price       decimal.Decimal `gorm:"type:numeric(14,2)" json:"price"`
	Currency    string          `json:"currency"`
	Bedrooms    int             `json:"bedrooms"`
	Bathrooms   int             `json:"bathrooms"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	Status      string          `gorm:"index;default:'available'" json:"status"`
}
