package payments

import (
	"errors"

	"propmarket_backend/internal/gateway"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"
)

// gatewayError - ответ шлюза наружу не отдаем, только код
func gatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrNotConfigured):
		return apperrors.ErrGatewayNotConfigured
	case errors.Is(err, gateway.ErrTimeout):
		return apperrors.ErrGatewayTimeout.WithError(err)
	default:
		return apperrors.ErrGateway(err)
	}
}

// storageError - доменные ошибки пропускаем, остальное - 500
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrPaymentNotFound):
		return apperrors.ErrNotFound("payment", "Payment not found")
	case errors.Is(err, repositories.ErrPlanNotFound):
		return apperrors.ErrNotFound("plan", "Plan not found")
	case errors.Is(err, repositories.ErrSubscriptionNotFound):
		return apperrors.ErrNoActiveSubscription
	case errors.Is(err, repositories.ErrActiveSubscriptionExists):
		return apperrors.ErrActiveSubscriptionExists
	}
	return apperrors.Wrap(err, apperrors.CodeDatabaseError, "payment", "Storage error", 500)
}
