package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
)

// ReservationService manages reservations and their payments.
type ReservationService struct {
	db       *gorm.DB
	gateway  PaymentGateway
	monitor  *Monitor
	notifier Notifier
}

func NewReservationService(db *gorm.DB, gateway PaymentGateway, monitor *Monitor, notifier Notifier) *ReservationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ReservationService{db: db, gateway: gateway, monitor: monitor, notifier: notifier}
}

// CreateReservationInput holds the booking request.
type CreateReservationInput struct {
	PropertyID      uuid.UUID
	ReservationDate time.Time
	Amount          decimal.Decimal
}

// PayInput describes the wallet to debit.
type PayInput struct {
	Phone  string
	Medium string
	Name   string
	Email  string
}

// ListFilter narrows reservation listings.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// chargeableAmount validates an amount for a mobile-money collection. XAF has
// no minor unit, so the recorded amount is exactly what the wallet is charged.
func chargeableAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(0)) {
		return decimal.Zero, ErrFractionalAmount
	}
	return amount, nil
}

// Create inserts a pending reservation, then marks the property reserved so
// nobody else can book it while the payment is in progress.
func (s *ReservationService) Create(ctx context.Context, userID uuid.UUID, in CreateReservationInput) (*models.Reservation, error) {
	amount, err := chargeableAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	var property models.Property
	if err := s.db.WithContext(ctx).First(&property, "id = ?", in.PropertyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPropertyNotFound
		}
		return nil, err
	}
	if property.Status != models.PropertyAvailable {
		return nil, ErrPropertyUnavailable
	}

	reservationDate := in.ReservationDate
	if reservationDate.IsZero() {
		reservationDate = time.Now()
	}

	reservation := models.Reservation{
		Versioned:       models.Versioned{Version: 1},
		UserID:          userID,
		PropertyID:      property.ID,
		ReservationDate: reservationDate,
		Amount:          amount,
		Status:          models.ReservationPending,
	}
	if err := s.db.WithContext(ctx).Create(&reservation).Error; err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Model(&models.Property{}).
		Where("id = ? AND status = ?", property.ID, models.PropertyAvailable).
		Update("status", models.PropertyReserved)
	if res.Error != nil {
		logging.Error("failed to hold property for reservation",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("property_id", property.ID.String()),
			zap.Error(res.Error),
		)
	} else if res.RowsAffected == 0 {
		logging.Warn("property was reserved concurrently",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("property_id", property.ID.String()),
		)
	}

	reservation.Property = &property
	reservation.Property.Status = models.PropertyReserved
	return &reservation, nil
}

// Get returns one of the user's reservations.
func (s *ReservationService) Get(ctx context.Context, userID, reservationID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := s.db.WithContext(ctx).
		Preload("Property").
		First(&reservation, "id = ? AND user_id = ?", reservationID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// List returns the user's reservations, newest first.
func (s *ReservationService) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Reservation, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Reservation{}).Where("user_id = ?", userID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	var reservations []models.Reservation
	if err := query.Preload("Property").
		Order("created_at desc").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&reservations).Error; err != nil {
		return nil, 0, err
	}
	return reservations, total, nil
}

// Pay initiates a mobile-money collection for a pending reservation and
// starts monitoring it. Calling Pay again while a payment is pending returns
// the running session instead of charging twice.
func (s *ReservationService) Pay(ctx context.Context, userID, reservationID uuid.UUID, in PayInput) (*models.Reservation, *Session, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, nil, ErrPhoneRequired
	}

	reservation, err := s.Get(ctx, userID, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if reservation.Status != models.ReservationPending {
		return nil, nil, fmt.Errorf("reservation is %s: %w", reservation.Status, ErrInvalidState)
	}
	if reservation.PaymentStatus != nil {
		if reservation.PaymentStatus.IsTerminal() {
			return nil, nil, fmt.Errorf("payment already %s: %w", *reservation.PaymentStatus, ErrInvalidState)
		}
		if reservation.TransactionID != nil {
			return reservation, s.monitor.Start(context.WithoutCancel(ctx), s.target(reservation)), nil
		}
	}

	result, err := s.gateway.InitiateCollection(ctx, PaymentRequest{
		Amount:     reservation.Amount.IntPart(),
		Phone:      phone,
		Medium:     in.Medium,
		Name:       in.Name,
		Email:      in.Email,
		UserID:     userID.String(),
		ExternalID: reservation.ID.String(),
		Message:    "Property reservation " + reservation.ID.String(),
	})
	if err != nil {
		return nil, nil, err
	}

	pending := models.PaymentStatusPending
	if err := casUpdate(ctx, s.db, &models.Reservation{}, reservation.ID, reservation.Version, map[string]any{
		"transaction_id": result.TransactionID,
		"payment_status": pending,
		"payer_phone":    phone,
	}); err != nil {
		logging.Error("collection initiated but reservation not updated",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("transaction_id", result.TransactionID),
			zap.Error(err),
		)
		return nil, nil, err
	}
	reservation.TransactionID = &result.TransactionID
	reservation.PaymentStatus = &pending
	reservation.PayerPhone = phone
	reservation.Version++

	cacheTransaction(ctx, s.db, &models.PaymentTransaction{
		TransactionID: result.TransactionID,
		UserID:        &userID,
		Amount:        reservation.Amount,
		Status:        models.PaymentStatusPending,
		Direction:     models.DirectionCollection,
		ReferenceType: models.ReferenceReservation,
		ReferenceID:   reservation.ID,
		Medium:        in.Medium,
		Phone:         phone,
		ExternalID:    reservation.ID.String(),
	})

	session := s.monitor.Start(context.WithoutCancel(ctx), s.target(reservation))
	return reservation, session, nil
}

// Cancel marks the reservation cancelled. When no payment went through the
// optimistic property hold is released.
func (s *ReservationService) Cancel(ctx context.Context, userID, reservationID uuid.UUID, reason string) (*models.Reservation, error) {
	reservation, err := s.Get(ctx, userID, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.Status != models.ReservationPending && reservation.Status != models.ReservationConfirmed {
		return nil, fmt.Errorf("reservation is %s: %w", reservation.Status, ErrInvalidState)
	}

	if err := casUpdate(ctx, s.db, &models.Reservation{}, reservation.ID, reservation.Version, map[string]any{
		"status":        models.ReservationCancelled,
		"cancel_reason": reason,
	}); err != nil {
		return nil, err
	}
	reservation.Status = models.ReservationCancelled
	reservation.CancelReason = reason
	reservation.Version++

	if reservation.TransactionID != nil {
		s.monitor.StopTransaction(*reservation.TransactionID)
	}

	paid := reservation.PaymentStatus != nil && *reservation.PaymentStatus == models.PaymentStatusSuccessful
	if !paid {
		s.releaseProperty(ctx, reservation)
	}

	s.notifier.Notify(ctx, Notice{
		Kind:          models.NotifyReservationCancelled,
		UserID:        userID,
		ReferenceID:   reservation.ID,
		ReferenceType: models.ReferenceReservation,
		Amount:        reservation.Amount,
	})
	return reservation, nil
}

// RequestRefund sends the paid amount back to the payer's wallet and cancels
// the reservation. Gateway failures are returned as-is.
func (s *ReservationService) RequestRefund(ctx context.Context, userID, reservationID uuid.UUID, reason string) (*models.Reservation, error) {
	reservation, err := s.Get(ctx, userID, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.PaymentStatus == nil || *reservation.PaymentStatus != models.PaymentStatusSuccessful {
		return nil, fmt.Errorf("no successful payment to refund: %w", ErrInvalidState)
	}
	if reservation.RefundTransactionID != nil {
		return nil, fmt.Errorf("refund already requested: %w", ErrInvalidState)
	}
	if reservation.Status == models.ReservationCompleted {
		return nil, fmt.Errorf("reservation is completed: %w", ErrInvalidState)
	}

	result, err := s.gateway.InitiateWithdrawal(ctx, PaymentRequest{
		Amount:     reservation.Amount.Floor().IntPart(),
		Phone:      reservation.PayerPhone,
		UserID:     userID.String(),
		ExternalID: "refund-" + reservation.ID.String(),
		Message:    "Refund for reservation " + reservation.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	if err := casUpdate(ctx, s.db, &models.Reservation{}, reservation.ID, reservation.Version, map[string]any{
		"refund_transaction_id": result.TransactionID,
		"status":                models.ReservationCancelled,
		"cancel_reason":         reason,
	}); err != nil {
		logging.Error("refund initiated but reservation not updated",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("refund_transaction_id", result.TransactionID),
			zap.Error(err),
		)
		return nil, err
	}
	reservation.RefundTransactionID = &result.TransactionID
	reservation.Status = models.ReservationCancelled
	reservation.CancelReason = reason
	reservation.Version++

	s.releaseProperty(ctx, reservation)

	refund := &models.PaymentTransaction{
		TransactionID: result.TransactionID,
		UserID:        &userID,
		Amount:        reservation.Amount,
		Status:        models.PaymentStatusPending,
		Direction:     models.DirectionWithdrawal,
		ReferenceType: models.ReferenceRefund,
		ReferenceID:   reservation.ID,
		Phone:         reservation.PayerPhone,
		ExternalID:    "refund-" + reservation.ID.String(),
	}
	cacheTransaction(ctx, s.db, refund)
	s.monitor.Start(context.WithoutCancel(ctx), TargetFromTransaction(*refund))

	s.notifier.Notify(ctx, Notice{
		Kind:          models.NotifyRefundRequested,
		UserID:        userID,
		ReferenceID:   reservation.ID,
		ReferenceType: models.ReferenceReservation,
		TransactionID: result.TransactionID,
		Amount:        reservation.Amount,
	})
	return reservation, nil
}

func (s *ReservationService) releaseProperty(ctx context.Context, reservation *models.Reservation) {
	if err := s.db.WithContext(ctx).
		Model(&models.Property{}).
		Where("id = ? AND status = ?", reservation.PropertyID, models.PropertyReserved).
		Update("status", models.PropertyAvailable).Error; err != nil {
		logging.Error("failed to release property",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("property_id", reservation.PropertyID.String()),
			zap.Error(err),
		)
	}
}

func (s *ReservationService) target(reservation *models.Reservation) Target {
	return Target{
		Kind:          models.ReferenceReservation,
		ReferenceID:   reservation.ID,
		TransactionID: *reservation.TransactionID,
		UserID:        reservation.UserID,
		Amount:        reservation.Amount,
	}
}

// casUpdate applies updates only if the row still has the given version and
// bumps it.
func casUpdate(ctx context.Context, db *gorm.DB, model any, id uuid.UUID, version int, updates map[string]any) error {
	updates["version"] = version + 1
	res := db.WithContext(ctx).
		Model(model).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}
