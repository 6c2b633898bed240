package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reservation statuses.
const (
	ReservationPending   = "pending"
	ReservationConfirmed = "confirmed"
	ReservationCancelled = "cancelled"
	ReservationCompleted = "completed"
)

// Reservation books a property visit or stay for a user.
type Reservation struct {
	BaseModel
	Versioned
	UserID              uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	PropertyID          uuid.UUID       `gorm:"type:uuid;index" json:"property_id"`
	Property            *Property       `json:"property,omitempty"`
	ReservationDate     time.Time       `json:"reservation_date"`
	Amount              decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	Status              string          `gorm:"index;default:'pending'" json:"status"`
	PaymentStatus       *PaymentStatus  `gorm:"index" json:"payment_status"`
	TransactionID       *string         `gorm:"index" json:"transaction_id"`
	PayerPhone          string          `json:"payer_phone"`
	PaidAt              *time.Time      `json:"paid_at"`
	RefundTransactionID *string         `json:"refund_transaction_id"`
	CancelReason        string          `json:"cancel_reason"`
}
