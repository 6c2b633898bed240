package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
)

// Notice is a user-facing event raised by the payment core.
type Notice struct {
	Kind          string
	UserID        uuid.UUID
	ReferenceID   uuid.UUID
	ReferenceType string
	TransactionID string
	Amount        decimal.Decimal
	Status        models.PaymentStatus
}

// Notifier delivers notices. Delivery failures are the notifier's concern and
// never reach the payment flow.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notice) {}

// MultiNotifier fans a notice out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// StoreNotifier persists notices as in-app notifications.
type StoreNotifier struct {
	db *gorm.DB
}

func NewStoreNotifier(db *gorm.DB) *StoreNotifier {
	return &StoreNotifier{db: db}
}

func (s *StoreNotifier) Notify(ctx context.Context, n Notice) {
	if n.UserID == uuid.Nil {
		return
	}
	title, body := noticeText(n)
	refID := n.ReferenceID
	row := models.Notification{
		UserID:      n.UserID,
		Kind:        n.Kind,
		Title:       title,
		Body:        body,
		ReferenceID: &refID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		logging.Error("failed to store notification",
			zap.String("user_id", n.UserID.String()),
			zap.String("kind", n.Kind),
			zap.Error(err),
		)
	}
}

func noticeText(n Notice) (string, string) {
	subject := "reservation"
	if n.ReferenceType == models.ReferenceCommission {
		subject = "commission payment"
	}
	amount := FormatPrice(n.Amount, "XAF")

	if n.ReferenceType == models.ReferenceRefund {
		switch n.Kind {
		case models.NotifyPaymentSuccess:
			return "Refund completed", fmt.Sprintf("Your refund of %s has been paid out.", amount)
		case models.NotifyPaymentFailure:
			return "Refund failed", fmt.Sprintf("Your refund of %s could not be paid out (%s). Our team will contact you.", amount, n.Status)
		}
	}

	switch n.Kind {
	case models.NotifyPaymentSuccess:
		return "Payment successful", fmt.Sprintf("Your payment of %s for the %s was received.", amount, subject)
	case models.NotifyPaymentFailure:
		return "Payment failed", fmt.Sprintf("Your payment of %s for the %s did not go through (%s).", amount, subject, n.Status)
	case models.NotifyPaymentTimeout:
		return "Payment pending", fmt.Sprintf("We could not confirm your payment of %s in time. It may still complete; check your %s later.", amount, subject)
	case models.NotifyReservationCancelled:
		return "Reservation cancelled", "Your reservation has been cancelled."
	case models.NotifyRefundRequested:
		return "Refund requested", fmt.Sprintf("A refund of %s is on its way to your wallet.", amount)
	default:
		return "Update", ""
	}
}
