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

// CommissionService collects agent commissions into escrow.
type CommissionService struct {
	db      *gorm.DB
	gateway PaymentGateway
	monitor *Monitor
	feeRate decimal.Decimal
}

func NewCommissionService(db *gorm.DB, gateway PaymentGateway, monitor *Monitor, feeRate decimal.Decimal) *CommissionService {
	return &CommissionService{db: db, gateway: gateway, monitor: monitor, feeRate: feeRate}
}

// CreateCommissionInput is a request to pay an agent through the platform.
type CreateCommissionInput struct {
	UserID        uuid.UUID
	AgentID       uuid.UUID
	PropertyID    uuid.UUID
	ReservationID *uuid.UUID
	Amount        decimal.Decimal
	Phone         string
	Medium        string
	Name          string
	Email         string
}

// SplitCommission rounds amount to cents and divides it into the platform
// fee and the agent share. The two parts always add up to the rounded amount.
func SplitCommission(amount, rate decimal.Decimal) (fee, agent decimal.Decimal) {
	amount = amount.Round(2)
	fee = amount.Mul(rate).Round(2)
	agent = amount.Sub(fee)
	return fee, agent
}

// NewPaymentReference returns a unique client-side commission reference.
func NewPaymentReference() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("COMM-%d-%s", time.Now().Unix(), strings.ToUpper(suffix))
}

// Create records the commission in escrow, asks the payer to approve the
// collection and starts monitoring it. Invalid amounts are rejected before
// the gateway is contacted.
func (s *CommissionService) Create(ctx context.Context, in CreateCommissionInput) (*models.CommissionPayment, *Session, error) {
	amount, err := chargeableAmount(in.Amount)
	if err != nil {
		return nil, nil, err
	}
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, nil, ErrPhoneRequired
	}

	var property models.Property
	if err := s.db.WithContext(ctx).First(&property, "id = ?", in.PropertyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrPropertyNotFound
		}
		return nil, nil, err
	}

	if in.ReservationID != nil {
		var reservation models.Reservation
		if err := s.db.WithContext(ctx).
			Select("id").
			First(&reservation, "id = ? AND user_id = ?", *in.ReservationID, in.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, ErrReservationNotFound
			}
			return nil, nil, err
		}
	}

	agentID := in.AgentID
	if agentID == uuid.Nil {
		agentID = property.AgentID
	}

	fee, agentAmount := SplitCommission(amount, s.feeRate)
	commission := models.CommissionPayment{
		Versioned:        models.Versioned{Version: 1},
		UserID:           in.UserID,
		AgentID:          agentID,
		PropertyID:       property.ID,
		ReservationID:    in.ReservationID,
		Amount:           amount,
		PlatformFee:      fee,
		AgentAmount:      agentAmount,
		Status:           models.CommissionPending,
		EscrowStatus:     models.EscrowHolding,
		PaymentReference: NewPaymentReference(),
		PayerPhone:       phone,
	}
	if err := s.db.WithContext(ctx).Create(&commission).Error; err != nil {
		return nil, nil, err
	}

	result, err := s.gateway.InitiateCollection(ctx, PaymentRequest{
		Amount:     amount.IntPart(),
		Phone:      phone,
		Medium:     in.Medium,
		Name:       in.Name,
		Email:      in.Email,
		UserID:     in.UserID.String(),
		ExternalID: commission.PaymentReference,
		Message:    "Agent commission " + commission.PaymentReference,
	})
	if err != nil {
		if cancelErr := casUpdate(ctx, s.db, &models.CommissionPayment{}, commission.ID, commission.Version, map[string]any{
			"status": models.CommissionCancelled,
		}); cancelErr != nil {
			logging.Error("failed to cancel commission after gateway error",
				zap.String("commission_id", commission.ID.String()),
				zap.Error(cancelErr),
			)
		}
		return nil, nil, err
	}

	pending := models.PaymentStatusPending
	if err := casUpdate(ctx, s.db, &models.CommissionPayment{}, commission.ID, commission.Version, map[string]any{
		"transaction_id": result.TransactionID,
		"payment_status": pending,
	}); err != nil {
		logging.Error("collection initiated but commission not updated",
			zap.String("commission_id", commission.ID.String()),
			zap.String("transaction_id", result.TransactionID),
			zap.Error(err),
		)
		return nil, nil, err
	}
	commission.TransactionID = &result.TransactionID
	commission.PaymentStatus = &pending
	commission.Version++

	cacheTransaction(ctx, s.db, &models.PaymentTransaction{
		TransactionID: result.TransactionID,
		UserID:        &in.UserID,
		Amount:        amount,
		Status:        models.PaymentStatusPending,
		Direction:     models.DirectionCollection,
		ReferenceType: models.ReferenceCommission,
		ReferenceID:   commission.ID,
		Medium:        in.Medium,
		Phone:         phone,
		ExternalID:    commission.PaymentReference,
	})

	session := s.monitor.Start(context.WithoutCancel(ctx), Target{
		Kind:          models.ReferenceCommission,
		ReferenceID:   commission.ID,
		TransactionID: result.TransactionID,
		UserID:        in.UserID,
		Amount:        amount,
	})
	return &commission, session, nil
}

// List returns commissions paid by the user, newest first.
func (s *CommissionService) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.CommissionPayment, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.CommissionPayment{}).Where("user_id = ?", userID)
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

	var commissions []models.CommissionPayment
	if err := query.Order("created_at desc").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&commissions).Error; err != nil {
		return nil, 0, err
	}
	return commissions, total, nil
}

// Get returns one of the user's commission payments.
func (s *CommissionService) Get(ctx context.Context, userID, commissionID uuid.UUID) (*models.CommissionPayment, error) {
	var commission models.CommissionPayment
	if err := s.db.WithContext(ctx).
		First(&commission, "id = ? AND user_id = ?", commissionID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommissionNotFound
		}
		return nil, err
	}
	return &commission, nil
}
