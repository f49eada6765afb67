package memory

import (
	"context"
	"sort"
	"time"

	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type paymentRepo struct{ s *Store }

func (r *paymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	defer r.s.lock()()
	for _, p := range r.s.state.payments {
		if p.GatewayOrderID == payment.GatewayOrderID {
			return repositories.ErrDuplicateOrder
		}
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	stamp(&payment.BaseModel, r.s.now())
	r.s.state.payments[payment.ID] = clonePayment(*payment)
	return nil
}

func (r *paymentRepo) findBy(match func(p models.Payment) bool) (*models.Payment, error) {
	for _, p := range r.s.state.payments {
		if match(p) {
			cp := clonePayment(p)
			return &cp, nil
		}
	}
	return nil, repositories.ErrPaymentNotFound
}

func (r *paymentRepo) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	defer r.s.lock()()
	return r.findBy(func(p models.Payment) bool { return p.GatewayOrderID == orderID })
}

func (r *paymentRepo) LockByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return r.FindByOrderID(ctx, orderID)
}

func (r *paymentRepo) LockByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	defer r.s.lock()()
	return r.findBy(func(p models.Payment) bool {
		return p.GatewayPaymentID != nil && *p.GatewayPaymentID == paymentID
	})
}

func (r *paymentRepo) transition(id string, apply func(p *models.Payment)) (bool, error) {
	defer r.s.lock()()
	p, ok := r.s.state.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	apply(&p)
	p.UpdatedAt = r.s.now()
	r.s.state.payments[id] = p
	return true, nil
}

func (r *paymentRepo) MarkPaid(ctx context.Context, id, gatewayPaymentID, signature string, paidAt time.Time) (bool, error) {
	return r.transition(id, func(p *models.Payment) {
		p.Status = models.PaymentStatusPaid
		p.GatewayPaymentID = &gatewayPaymentID
		if signature != "" {
			p.Signature = &signature
		}
		p.PaidAt = &paidAt
	})
}

func (r *paymentRepo) MarkFailed(ctx context.Context, id, gatewayPaymentID, reason string) (bool, error) {
	return r.transition(id, func(p *models.Payment) {
		p.Status = models.PaymentStatusFailed
		p.GatewayPaymentID = &gatewayPaymentID
		p.CancelReason = reason
	})
}

func (r *paymentRepo) CancelPending(ctx context.Context, id, reason string) (bool, error) {
	return r.transition(id, func(p *models.Payment) {
		p.Status = models.PaymentStatusCancelled
		p.CancelReason = reason
	})
}

func (r *paymentRepo) RecordOutcome(ctx context.Context, id string, outcome repositories.PaymentOutcome) error {
	defer r.s.lock()()
	p, ok := r.s.state.payments[id]
	if !ok {
		return repositories.ErrPaymentNotFound
	}
	if outcome.SubscriptionID != nil {
		subID := *outcome.SubscriptionID
		p.SubscriptionID = &subID
	} else {
		p.SubscriptionID = nil
	}
	p.GrantedAddonIDs = cloneStrings(outcome.GrantedAddonIDs)
	p.Metadata = datatypes.NewJSONType(outcome.Metadata)
	p.UpdatedAt = r.s.now()
	r.s.state.payments[id] = clonePayment(p)
	return nil
}

func (r *paymentRepo) RecordRefund(ctx context.Context, id string, refund repositories.RefundRecord) (bool, error) {
	defer r.s.lock()()
	p, ok := r.s.state.payments[id]
	if !ok || p.Status != models.PaymentStatusPaid || !p.RefundedAmount.Equal(refund.PreviousRefunded) {
		return false, nil
	}
	refundID := refund.RefundID
	at := refund.At
	p.RefundID = &refundID
	p.RefundedAmount = refund.PreviousRefunded.Add(refund.Amount)
	p.RefundStatus = refund.Status
	p.RefundReason = refund.Reason
	p.RefundedAt = &at
	p.UpdatedAt = r.s.now()
	r.s.state.payments[id] = p
	return true, nil
}

func (r *paymentRepo) FindExpiredPending(ctx context.Context, now time.Time, after *repositories.ExpiredCursor, limit int) ([]models.Payment, error) {
	defer r.s.lock()()
	var expired []models.Payment
	for _, p := range r.s.state.payments {
		if !p.IsExpired(now) {
			continue
		}
		if after != nil && !expiredAfter(p, after) {
			continue
		}
		expired = append(expired, clonePayment(p))
	}
	sort.Slice(expired, func(i, j int) bool {
		a, b := expired[i], expired[j]
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// expiredAfter - (expires_at, id) строго больше курсора
func expiredAfter(p models.Payment, c *repositories.ExpiredCursor) bool {
	if !p.ExpiresAt.Equal(c.ExpiresAt) {
		return p.ExpiresAt.After(c.ExpiresAt)
	}
	return p.ID > c.ID
}

func (r *paymentRepo) Stats(ctx context.Context) (*repositories.PaymentStats, error) {
	defer r.s.lock()()
	stats := &repositories.PaymentStats{
		ByStatus:      map[models.PaymentStatus]int64{},
		ByType:        map[models.PaymentType]int64{},
		PaidRevenue:   decimal.Zero,
		RefundedTotal: decimal.Zero,
	}
	for _, p := range r.s.state.payments {
		stats.ByStatus[p.Status]++
		stats.ByType[p.Type]++
		if p.Status == models.PaymentStatusPaid {
			stats.PaidRevenue = stats.PaidRevenue.Add(p.Amount)
			stats.RefundedTotal = stats.RefundedTotal.Add(p.RefundedAmount)
		}
	}
	return stats, nil
}
