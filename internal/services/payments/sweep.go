package payments

import (
	"context"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
)

// ============================================
// EXPIRY SWEEP
// ============================================

// SweepExpired отменяет просроченные pending платежи и переводит закончившиеся подписки в expired.
// Повторный запуск безопасен: переходы условные, проигранная гонка с верификацией - no-op.
func (s *service) SweepExpired(ctx context.Context) (*dto.SweepResponse, error) {
	now := s.clock()
	result := &dto.SweepResponse{}
	var cursor *repositories.ExpiredCursor

	for {
		batch, err := s.store.Payments().FindExpiredPending(ctx, now, cursor, s.settings.SweepBatchSize)
		if err != nil {
			return result, storageError(err)
		}

		for i := range batch {
			p := &batch[i]
			cancelled, subCancelled, err := s.expirePayment(ctx, p.GatewayOrderID, now)
			if err != nil {
				s.metrics.SweptPayments.WithLabelValues("error").Inc()
				logger.CtxWithError(logger.WithOrderID(ctx, p.GatewayOrderID), "failed to expire payment", err)
				continue
			}
			if !cancelled {
				result.Skipped++
				s.metrics.SweptPayments.WithLabelValues("skipped").Inc()
				continue
			}
			result.Cancelled++
			s.metrics.SweptPayments.WithLabelValues("cancelled").Inc()
			if subCancelled {
				result.SubscriptionsCancelled++
			}
		}

		if len(batch) < s.settings.SweepBatchSize {
			break
		}
		// Неудачные строки остаются позади курсора и ждут следующего прохода
		last := batch[len(batch)-1]
		cursor = &repositories.ExpiredCursor{ExpiresAt: last.ExpiresAt, ID: last.ID}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	expired, err := s.store.Subscriptions().ExpireEnded(ctx, now)
	if err != nil {
		return result, storageError(err)
	}
	result.SubscriptionsExpired = expired

	if result.Cancelled > 0 || result.SubscriptionsExpired > 0 {
		logger.CtxInfo(ctx, "🧹 expired payments swept",
			"cancelled", result.Cancelled,
			"skipped", result.Skipped,
			"subscriptions_cancelled", result.SubscriptionsCancelled,
			"subscriptions_expired", result.SubscriptionsExpired)
	}
	return result, nil
}

// expirePayment - каждая строка в своей транзакции, чтобы одна ошибка не откатывала всю пачку
func (s *service) expirePayment(ctx context.Context, orderID string, now time.Time) (cancelled, subCancelled bool, err error) {
	err = s.store.Transaction(ctx, func(tx repositories.Store) error {
		payment, err := tx.Payments().LockByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if !payment.IsExpired(now) {
			return nil
		}

		cancelled, err = tx.Payments().CancelPending(ctx, payment.ID, models.CancelReasonTimeout)
		if err != nil || !cancelled {
			return err
		}

		// Подписка, привязанная к неоплаченному заказу, не должна оставаться активной
		if payment.Type == models.PaymentTypeSubscription && payment.SubscriptionID != nil {
			subCancelled, err = tx.Subscriptions().Cancel(ctx, *payment.SubscriptionID, models.CancelReasonTimeout, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return cancelled, subCancelled, nil
}
