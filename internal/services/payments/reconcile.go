package payments

import (
	"context"
	"errors"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/gateway"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"
)

// Reconcile - сверка со шлюзом, когда клиент так и не прислал подпись.
// Шлюз здесь источник истины, поэтому подпись не нужна.
func (s *service) Reconcile(ctx context.Context, orderID, gatewayPaymentID string) (*dto.VerifyPaymentResponse, error) {
	if !s.gateway.Configured() {
		return nil, apperrors.ErrGatewayNotConfigured
	}
	ctx = logger.WithOrderID(ctx, orderID)

	payment, err := s.store.Payments().FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, apperrors.ErrNotFound("payment", "Payment not found")
		}
		return nil, storageError(err)
	}

	info, err := s.gateway.FetchPayment(ctx, gatewayPaymentID)
	if err != nil {
		// Таймаут - результат неизвестен, строка остается pending
		logger.CtxWithError(ctx, "gateway payment lookup failed", err, "payment_id", gatewayPaymentID)
		return nil, gatewayError(err)
	}
	if info.OrderID != orderID {
		return nil, apperrors.ErrValidation("payment", "Gateway payment belongs to a different order").
			WithDetails(map[string]interface{}{"gateway_order_id": info.OrderID})
	}

	switch {
	case info.Settled():
		if !info.Amount.Equal(payment.Amount) || info.Currency != payment.Currency {
			logger.CtxError(ctx, "gateway amount does not match ledger",
				"gateway_amount", info.Amount.StringFixed(2), "gateway_currency", info.Currency,
				"ledger_amount", payment.Amount.StringFixed(2), "ledger_currency", payment.Currency)
			return nil, apperrors.ErrInvalidPaymentAmount
		}
		out, err := s.finalizeOnce(ctx, finalizeInput{OrderID: orderID, PaymentID: gatewayPaymentID})
		if err != nil {
			return nil, err
		}
		if out.rejection != nil {
			return nil, out.rejection
		}
		logger.CtxInfo(ctx, "payment reconciled with gateway", "gateway_status", info.Status)
		return out.response(), nil

	case info.Status == gateway.StatusFailed:
		failed, err := s.store.Payments().MarkFailed(ctx, payment.ID, gatewayPaymentID, "gateway reported failure")
		if err != nil {
			return nil, storageError(err)
		}
		status := payment.Status
		if failed {
			status = models.PaymentStatusFailed
			logger.CtxInfo(ctx, "payment marked failed by reconciliation")
		}
		return &dto.VerifyPaymentResponse{OrderID: orderID, Status: status, AlreadyProcessed: !failed, GrantedAddons: []dto.AddonSnapshotDTO{}}, nil
	}

	// created и прочие промежуточные статусы - ничего не меняем
	return &dto.VerifyPaymentResponse{
		OrderID:          orderID,
		Status:           payment.Status,
		AlreadyProcessed: payment.Status.IsFinal(),
		GrantedAddons:    []dto.AddonSnapshotDTO{},
	}, nil
}
