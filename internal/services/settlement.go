package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/monitoring"
)

const maxVersionRetries = 3

var errVersionConflict = errors.New("version conflict")

// SettlementService persists terminal payment outcomes and cascades them to
// dependent rows.
type SettlementService struct {
	db *gorm.DB
}

func NewSettlementService(db *gorm.DB) *SettlementService {
	return &SettlementService{db: db}
}

// Settle commits a terminal status for the record identified by target and
// reports whether it changed anything. Already-terminal records are left
// untouched and report false.
func (s *SettlementService) Settle(ctx context.Context, target Target, status models.PaymentStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("settle %s: status %s is not terminal", target.TransactionID, status)
	}

	ctx, span := monitoring.Tracer().Start(ctx, "payment.settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.transaction_id", target.TransactionID),
		attribute.String("payment.status", string(status)),
		attribute.String("payment.reference_type", target.Kind),
	)

	var (
		applied bool
		err     error
	)
	switch target.Kind {
	case models.ReferenceReservation:
		applied, err = s.settleReservation(ctx, target, status)
	case models.ReferenceCommission:
		applied, err = s.settleCommission(ctx, target, status)
	case models.ReferenceRefund:
		applied, err = s.updateCachedStatus(s.db.WithContext(ctx), target.TransactionID, status)
	default:
		err = ErrUnsupportedReference
	}

	result := "ok"
	if !applied {
		result = "noop"
	}
	if err != nil {
		result = "error"
		span.RecordError(err)
		err = &PersistenceError{
			Kind:          target.Kind,
			ReferenceID:   target.ReferenceID.String(),
			TransactionID: target.TransactionID,
			Err:           err,
		}
	}
	monitoring.Settlements.WithLabelValues(target.Kind, string(status), result).Inc()
	return applied, err
}

// SettleReservation commits a terminal status for a reservation payment.
func (s *SettlementService) SettleReservation(ctx context.Context, reservationID uuid.UUID, transactionID string, status models.PaymentStatus) (bool, error) {
	return s.Settle(ctx, Target{
		Kind:          models.ReferenceReservation,
		ReferenceID:   reservationID,
		TransactionID: transactionID,
	}, status)
}

// SettleCommission commits a terminal status for a commission payment.
func (s *SettlementService) SettleCommission(ctx context.Context, commissionID uuid.UUID, transactionID string, status models.PaymentStatus) (bool, error) {
	return s.Settle(ctx, Target{
		Kind:          models.ReferenceCommission,
		ReferenceID:   commissionID,
		TransactionID: transactionID,
	}, status)
}

// SettleTransaction resolves the cached transaction row to its target and
// settles it. Used when a status arrives without a running session.
func (s *SettlementService) SettleTransaction(ctx context.Context, transactionID string, status models.PaymentStatus) (*Target, bool, error) {
	var txn models.PaymentTransaction
	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("transaction %s: %w", transactionID, ErrUnsupportedReference)
		}
		return nil, false, err
	}

	target := TargetFromTransaction(txn)
	applied, err := s.Settle(ctx, target, status)
	return &target, applied, err
}

// TargetFromTransaction rebuilds a monitoring target from a cached row.
func TargetFromTransaction(txn models.PaymentTransaction) Target {
	target := Target{
		Kind:          txn.ReferenceType,
		ReferenceID:   txn.ReferenceID,
		TransactionID: txn.TransactionID,
		Amount:        txn.Amount,
	}
	if txn.UserID != nil {
		target.UserID = *txn.UserID
	}
	return target
}

func (s *SettlementService) settleReservation(ctx context.Context, target Target, status models.PaymentStatus) (bool, error) {
	log := logging.With(
		zap.String("reservation_id", target.ReferenceID.String()),
		zap.String("transaction_id", target.TransactionID),
	)

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		var reservation models.Reservation
		if err := s.db.WithContext(ctx).First(&reservation, "id = ?", target.ReferenceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, ErrReservationNotFound
			}
			return false, err
		}

		if reservation.TransactionID != nil && *reservation.TransactionID != target.TransactionID {
			log.Warn("ignoring outcome of a superseded transaction",
				zap.String("current_transaction_id", *reservation.TransactionID))
			_, err := s.updateCachedStatus(s.db.WithContext(ctx), target.TransactionID, status)
			return false, err
		}
		if !models.CanAdvance(reservation.PaymentStatus, status) {
			return false, nil
		}

		updates := map[string]any{
			"payment_status": status,
			"version":        reservation.Version + 1,
		}
		confirm := false
		if status == models.PaymentStatusSuccessful {
			updates["paid_at"] = time.Now()
			switch reservation.Status {
			case models.ReservationPending:
				updates["status"] = models.ReservationConfirmed
				confirm = true
			case models.ReservationCancelled:
				log.Warn("payment succeeded for a cancelled reservation, refund needs reconciliation")
			default:
				confirm = true
			}
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Reservation{}).
				Where("id = ? AND version = ?", reservation.ID, reservation.Version).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}

			if confirm {
				if err := tx.Model(&models.Property{}).
					Where("id = ?", reservation.PropertyID).
					Update("status", models.PropertyReserved).Error; err != nil {
					return err
				}
			}
			_, err := s.updateCachedStatus(tx, target.TransactionID, status)
			return err
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return false, err
		}

		log.Info("reservation payment settled", zap.String("status", string(status)))
		return true, nil
	}
	return false, ErrConcurrentUpdate
}

func (s *SettlementService) settleCommission(ctx context.Context, target Target, status models.PaymentStatus) (bool, error) {
	log := logging.With(
		zap.String("commission_id", target.ReferenceID.String()),
		zap.String("transaction_id", target.TransactionID),
	)

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		var commission models.CommissionPayment
		if err := s.db.WithContext(ctx).First(&commission, "id = ?", target.ReferenceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, ErrCommissionNotFound
			}
			return false, err
		}

		if commission.TransactionID != nil && *commission.TransactionID != target.TransactionID {
			log.Warn("ignoring outcome of a superseded transaction")
			_, err := s.updateCachedStatus(s.db.WithContext(ctx), target.TransactionID, status)
			return false, err
		}
		if !models.CanAdvance(commission.PaymentStatus, status) {
			return false, nil
		}

		updates := map[string]any{
			"payment_status": status,
			"version":        commission.Version + 1,
		}
		if commission.Status == models.CommissionPending {
			if status == models.PaymentStatusSuccessful {
				updates["status"] = models.CommissionPaid
			} else {
				updates["status"] = models.CommissionCancelled
			}
		}
		if status == models.PaymentStatusSuccessful {
			updates["paid_at"] = time.Now()
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.CommissionPayment{}).
				Where("id = ? AND version = ?", commission.ID, commission.Version).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}
			_, err := s.updateCachedStatus(tx, target.TransactionID, status)
			return err
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return false, err
		}

		log.Info("commission payment settled", zap.String("status", string(status)))
		return true, nil
	}
	return false, ErrConcurrentUpdate
}

// updateCachedStatus moves the cached transaction forward and reports whether
// a row changed. Missing rows are not an error: the gateway remains the
// source of truth.
func (s *SettlementService) updateCachedStatus(tx *gorm.DB, transactionID string, status models.PaymentStatus) (bool, error) {
	updates := map[string]any{"status": status}
	if status == models.PaymentStatusSuccessful {
		updates["date_confirmed"] = time.Now()
	}
	res := tx.Model(&models.PaymentTransaction{}).
		Where("transaction_id = ? AND status NOT IN ?", transactionID, terminalStatuses()).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func terminalStatuses() []models.PaymentStatus {
	return []models.PaymentStatus{
		models.PaymentStatusSuccessful,
		models.PaymentStatusFailed,
		models.PaymentStatusExpired,
	}
}
