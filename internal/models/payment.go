package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus is the gateway-side lifecycle of a mobile-money transaction.
type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "CREATED"
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusSuccessful PaymentStatus = "SUCCESSFUL"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusExpired    PaymentStatus = "EXPIRED"
)

// ParsePaymentStatus validates a raw gateway status value.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch s := PaymentStatus(raw); s {
	case PaymentStatusCreated, PaymentStatusPending, PaymentStatusSuccessful,
		PaymentStatusFailed, PaymentStatusExpired:
		return s, true
	}
	return "", false
}

// IsTerminal reports whether no further transition can happen.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccessful || s == PaymentStatusFailed || s == PaymentStatusExpired
}

// CanAdvance reports whether a stored status may be replaced by next.
// A nil current status means no payment was attempted yet.
func CanAdvance(current *PaymentStatus, next PaymentStatus) bool {
	if current == nil {
		return true
	}
	if current.IsTerminal() {
		return false
	}
	if *current == PaymentStatusPending && next == PaymentStatusCreated {
		return false
	}
	return true
}

// PaymentDirection tells whether money flows in or out of the platform.
type PaymentDirection string

const (
	DirectionCollection PaymentDirection = "collection"
	DirectionWithdrawal PaymentDirection = "withdrawal"
)

// Payment reference kinds.
const (
	ReferenceReservation = "reservation"
	ReferenceCommission  = "commission"
	ReferenceRefund      = "refund"
)

// PaymentTransaction caches the gateway view of a transaction.
type PaymentTransaction struct {
	BaseModel
	TransactionID string           `gorm:"column:transaction_id;uniqueIndex" json:"transaction_id"`
	UserID        *uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	Amount        decimal.Decimal  `gorm:"type:numeric(14,2)" json:"amount"`
	Status        PaymentStatus    `gorm:"index" json:"status"`
	Direction     PaymentDirection `json:"direction"`
	ReferenceType string           `gorm:"index:idx_payment_reference" json:"reference_type"`
	ReferenceID   uuid.UUID        `gorm:"type:uuid;index:idx_payment_reference" json:"reference_id"`
	Medium        string           `json:"medium"`
	Phone         string           `json:"phone"`
	ExternalID    string           `json:"external_id"`
	Raw           datatypes.JSON   `json:"raw,omitempty"`
	DateConfirmed *time.Time       `json:"date_confirmed"`
}
