package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds.
const (
	NotifyPaymentSuccess       = "payment_success"
	NotifyPaymentFailure       = "payment_failure"
	NotifyPaymentTimeout       = "payment_timeout"
	NotifyReservationCancelled = "reservation_cancelled"
	NotifyRefundRequested      = "refund_requested"
)

// Notification is an in-app notice shown to a user.
type Notification struct {
	BaseModel
	UserID      uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ReferenceID *uuid.UUID `gorm:"type:uuid" json:"reference_id"`
	ReadAt      *time.Time `json:"read_at"`
}
