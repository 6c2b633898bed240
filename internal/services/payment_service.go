package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
)

// ErrTransactionNotFound is returned for unknown or foreign transactions.
var ErrTransactionNotFound = errors.New("transaction not found")

// PaymentService exposes cached transactions and feeds externally observed
// statuses into the monitor.
type PaymentService struct {
	db      *gorm.DB
	gateway PaymentGateway
	monitor *Monitor
}

func NewPaymentService(db *gorm.DB, gateway PaymentGateway, monitor *Monitor) *PaymentService {
	return &PaymentService{db: db, gateway: gateway, monitor: monitor}
}

// GetTransaction returns the user's cached transaction. Non-terminal rows
// are refreshed from the gateway first; a terminal answer is delivered to
// the monitor so the owning record is settled.
func (s *PaymentService) GetTransaction(ctx context.Context, userID uuid.UUID, transactionID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := s.db.WithContext(ctx).
		First(&txn, "transaction_id = ? AND user_id = ?", transactionID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return &txn, nil
	}

	status, err := s.gateway.GetStatus(ctx, transactionID)
	if err != nil {
		logging.Warn("live status refresh failed, serving cached transaction",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return &txn, nil
	}

	if err := s.refreshCache(ctx, &txn, status); err != nil {
		logging.Error("failed to refresh cached transaction",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
	}

	if status.Status.IsTerminal() {
		if err := s.monitor.Deliver(ctx, transactionID, status.Status); err != nil {
			logging.Error("failed to deliver refreshed status",
				zap.String("transaction_id", transactionID),
				zap.Error(err),
			)
		}
	}
	return &txn, nil
}

// HandleWebhook accepts a status pushed by the gateway.
func (s *PaymentService) HandleWebhook(ctx context.Context, transactionID string, status models.PaymentStatus) error {
	logging.Info("gateway webhook received",
		zap.String("transaction_id", transactionID),
		zap.String("status", string(status)),
	)
	return s.monitor.Deliver(ctx, transactionID, status)
}

// ResumePending restarts monitoring for transactions that were still pending
// when the process stopped and are younger than maxAge.
func (s *PaymentService) ResumePending(ctx context.Context, maxAge time.Duration) (int, error) {
	var pending []models.PaymentTransaction
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND created_at > ?",
			[]models.PaymentStatus{models.PaymentStatusCreated, models.PaymentStatusPending},
			time.Now().Add(-maxAge)).
		Find(&pending).Error; err != nil {
		return 0, err
	}

	for _, txn := range pending {
		s.monitor.Start(context.Background(), TargetFromTransaction(txn))
	}
	if len(pending) > 0 {
		logging.Info("resumed payment monitoring", zap.Int("sessions", len(pending)))
	}
	return len(pending), nil
}

func (s *PaymentService) refreshCache(ctx context.Context, txn *models.PaymentTransaction, status *StatusResult) error {
	updates := map[string]any{}
	if len(status.Raw) > 0 {
		updates["raw"] = datatypes.JSON(status.Raw)
		txn.Raw = datatypes.JSON(status.Raw)
	}
	if status.Medium != "" {
		updates["medium"] = status.Medium
		txn.Medium = status.Medium
	}
	if status.Status != txn.Status && models.CanAdvance(&txn.Status, status.Status) {
		// terminal statuses are written by settlement
		if !status.Status.IsTerminal() {
			updates["status"] = status.Status
		}
		txn.Status = status.Status
	}
	if status.DateConfirmed != nil {
		updates["date_confirmed"] = status.DateConfirmed
		txn.DateConfirmed = status.DateConfirmed
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", txn.ID).
		Updates(updates).Error
}

// cacheTransaction stores the application's copy of a gateway transaction.
// Failures are logged; the gateway stays authoritative.
func cacheTransaction(ctx context.Context, db *gorm.DB, txn *models.PaymentTransaction) {
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(txn).Error; err != nil {
		logging.Error("failed to cache payment transaction",
			zap.String("transaction_id", txn.TransactionID),
			zap.Error(err),
		)
	}
}
