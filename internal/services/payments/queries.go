package payments

import (
	"context"
	"errors"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"
)

func (s *service) GetPaymentStatus(ctx context.Context, userID string, isAdmin bool, orderID string) (*dto.PaymentStatusResponse, error) {
	payment, err := s.store.Payments().FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, apperrors.ErrNotFound("payment", "Payment not found")
		}
		return nil, storageError(err)
	}
	if !isAdmin && payment.UserID != userID {
		return nil, apperrors.ErrNotFound("payment", "Payment not found")
	}
	return dto.NewPaymentStatusResponse(payment), nil
}

func (s *service) GetMySubscription(ctx context.Context, userID string) (*dto.SubscriptionResponse, error) {
	sub, err := s.store.Subscriptions().FindActiveByUser(ctx, userID, s.clock())
	if err != nil {
		if errors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, apperrors.ErrNoActiveSubscription
		}
		return nil, storageError(err)
	}
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *service) Stats(ctx context.Context) (*dto.PaymentStatsResponse, error) {
	stats, err := s.store.Payments().Stats(ctx)
	if err != nil {
		return nil, storageError(err)
	}

	resp := &dto.PaymentStatsResponse{
		ByStatus:      make(map[string]int64, len(stats.ByStatus)),
		ByType:        make(map[string]int64, len(stats.ByType)),
		PaidRevenue:   stats.PaidRevenue,
		RefundedTotal: stats.RefundedTotal,
	}
	for status, n := range stats.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	for typ, n := range stats.ByType {
		resp.ByType[string(typ)] = n
	}
	return resp, nil
}
