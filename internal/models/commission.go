package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Commission statuses.
const (
	CommissionPending   = "pending"
	CommissionPaid      = "paid"
	CommissionReleased  = "released"
	CommissionRefunded  = "refunded"
	CommissionCancelled = "cancelled"
)

// Escrow statuses.
const (
	EscrowHolding  = "holding"
	EscrowReleased = "released"
	EscrowRefunded = "refunded"
)

// CommissionPayment is an agent commission collected through the platform
// and held in escrow until released.
type CommissionPayment struct {
	BaseModel
	Versioned
	UserID           uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	AgentID          uuid.UUID       `gorm:"type:uuid;index" json:"agent_id"`
	PropertyID       uuid.UUID       `gorm:"type:uuid;index" json:"property_id"`
	ReservationID    *uuid.UUID      `gorm:"type:uuid" json:"reservation_id"`
	Amount           decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	PlatformFee      decimal.Decimal `gorm:"type:numeric(14,2)" json:"platform_fee"`
	AgentAmount      decimal.Decimal `gorm:"type:numeric(14,2)" json:"agent_amount"`
	Status           string          `gorm:"index;default:'pending'" json:"status"`
	EscrowStatus     string          `gorm:"default:'holding'" json:"escrow_status"`
	PaymentStatus    *PaymentStatus  `json:"payment_status"`
	PaymentReference string          `gorm:"uniqueIndex" json:"payment_reference"`
	TransactionID    *string         `gorm:"index" json:"transaction_id"`
	PayerPhone       string          `json:"payer_phone"`
	PaidAt           *time.Time      `json:"paid_at"`
}
