package repositories

import (
	"context"
	"errors"
	"time"

	"propmarket_backend/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepositoryImpl struct {
	db *gorm.DB
}

func (r *PaymentRepositoryImpl) Create(ctx context.Context, payment *models.Payment) error {
	err := r.db.WithContext(ctx).Create(payment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateOrder
	}
	return err
}

func (r *PaymentRepositoryImpl) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("gateway_order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) LockByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	return &payment, nil
}

func (r *PaymentRepositoryImpl) LockByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_payment_id = ?", paymentID).
		First(&payment).Error
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	return &payment, nil
}

// transition - единственный способ сменить статус: только из pending
func (r *PaymentRepositoryImpl) transition(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *PaymentRepositoryImpl) MarkPaid(ctx context.Context, id, gatewayPaymentID, signature string, paidAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":             models.PaymentStatusPaid,
		"gateway_payment_id": gatewayPaymentID,
		"paid_at":            paidAt,
	}
	if signature != "" {
		updates["signature"] = signature
	}
	return r.transition(ctx, id, updates)
}

func (r *PaymentRepositoryImpl) MarkFailed(ctx context.Context, id, gatewayPaymentID, reason string) (bool, error) {
	return r.transition(ctx, id, map[string]interface{}{
		"status":             models.PaymentStatusFailed,
		"gateway_payment_id": gatewayPaymentID,
		"cancel_reason":      reason,
	})
}

func (r *PaymentRepositoryImpl) CancelPending(ctx context.Context, id, reason string) (bool, error) {
	return r.transition(ctx, id, map[string]interface{}{
		"status":        models.PaymentStatusCancelled,
		"cancel_reason": reason,
	})
}

func (r *PaymentRepositoryImpl) RecordOutcome(ctx context.Context, id string, outcome PaymentOutcome) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"subscription_id":   outcome.SubscriptionID,
			"granted_addon_ids": pq.StringArray(outcome.GrantedAddonIDs),
			"metadata":          datatypes.NewJSONType(outcome.Metadata),
		}).Error
}

func (r *PaymentRepositoryImpl) RecordRefund(ctx context.Context, id string, refund RefundRecord) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ? AND refunded_amount = ?", id, models.PaymentStatusPaid, refund.PreviousRefunded).
		Updates(map[string]interface{}{
			"refund_id":       refund.RefundID,
			"refunded_amount": refund.PreviousRefunded.Add(refund.Amount),
			"refund_status":   refund.Status,
			"refund_reason":   refund.Reason,
			"refunded_at":     refund.At,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *PaymentRepositoryImpl) FindExpiredPending(ctx context.Context, now time.Time, after *ExpiredCursor, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.PaymentStatusPending, now)
	if after != nil {
		query = query.Where("(expires_at, id) > (?, ?)", after.ExpiresAt, after.ID)
	}
	err := query.
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepositoryImpl) Stats(ctx context.Context) (*PaymentStats, error) {
	db := r.db.WithContext(ctx)
	stats := &PaymentStats{
		ByStatus: map[models.PaymentStatus]int64{},
		ByType:   map[models.PaymentType]int64{},
	}

	var byStatus []struct {
		Status models.PaymentStatus
		Count  int64
	}
	if err := db.Model(&models.Payment{}).Select("status, COUNT(*) AS count").
		Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
	}

	var byType []struct {
		Type  models.PaymentType
		Count int64
	}
	if err := db.Model(&models.Payment{}).Select("type, COUNT(*) AS count").
		Group("type").Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, row := range byType {
		stats.ByType[row.Type] = row.Count
	}

	var totals struct {
		Paid     decimal.Decimal
		Refunded decimal.Decimal
	}
	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusPaid).
		Select("COALESCE(SUM(amount), 0) AS paid, COALESCE(SUM(refunded_amount), 0) AS refunded").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	stats.PaidRevenue = totals.Paid
	stats.RefundedTotal = totals.Refunded

	return stats, nil
}
