package payments

import (
	"context"
	"errors"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// ============================================
// REFUNDS
// ============================================

// Refund - полный или частичный возврат оплаченного платежа. Подписку не трогает.
func (s *service) Refund(ctx context.Context, adminID, gatewayPaymentID string, req *dto.RefundRequest) (*dto.RefundResponse, error) {
	if !s.gateway.Configured() {
		return nil, apperrors.ErrGatewayNotConfigured
	}

	payment, err := s.store.Payments().LockByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, repositories.ErrPaymentNotFound) {
			return nil, apperrors.ErrNotFound("payment", "Payment not found")
		}
		return nil, storageError(err)
	}
	ctx = logger.WithOrderID(ctx, payment.GatewayOrderID)

	if payment.Status != models.PaymentStatusPaid {
		return nil, apperrors.ErrInvalidStatus("payment", "Only paid payments can be refunded").
			WithDetails(map[string]interface{}{"status": payment.Status})
	}

	refundable := payment.Refundable()
	amount := refundable
	if req.Amount != nil {
		amount = req.Amount.Round(2)
	}
	if !amount.IsPositive() {
		return nil, apperrors.ErrValidation("payment", "Refund amount must be positive").
			WithDetails(map[string]interface{}{"refundable": refundable.StringFixed(2)})
	}
	if amount.GreaterThan(refundable) {
		return nil, apperrors.ErrValidation("payment", "Refund amount exceeds refundable balance").
			WithDetails(map[string]interface{}{
				"requested":  amount.StringFixed(2),
				"refundable": refundable.StringFixed(2),
			})
	}

	// Полный возврат без суммы - шлюз сам вернет остаток
	var gatewayAmount *decimal.Decimal
	if !amount.Equal(payment.Amount) || !payment.RefundedAmount.IsZero() {
		gatewayAmount = &amount
	}
	notes := map[string]string{"reason": req.Reason, "refunded_by": adminID}

	refund, err := s.gateway.Refund(ctx, gatewayPaymentID, gatewayAmount, notes)
	if err != nil {
		s.metrics.Refunds.WithLabelValues("gateway_error").Inc()
		logger.CtxWithError(ctx, "gateway refund failed", err, "amount", amount.StringFixed(2))
		return nil, gatewayError(err)
	}

	ok, err := s.store.Payments().RecordRefund(ctx, payment.ID, repositories.RefundRecord{
		RefundID:         refund.ID,
		Amount:           amount,
		PreviousRefunded: payment.RefundedAmount,
		Status:           refund.Status,
		Reason:           req.Reason,
		At:               s.clock(),
	})
	if err != nil {
		s.metrics.Refunds.WithLabelValues("storage_error").Inc()
		logger.CtxWithError(ctx, "⚠️ refund issued but not recorded", err, "refund_id", refund.ID)
		return nil, apperrors.InternalError(err)
	}
	if !ok {
		// Параллельный возврат успел раньше; деньги шлюз уже вернул - нужен ручной разбор
		s.metrics.Refunds.WithLabelValues("conflict").Inc()
		logger.CtxError(ctx, "⚠️ refund issued but ledger changed concurrently", "refund_id", refund.ID, "amount", amount.StringFixed(2))
		return nil, apperrors.ErrConflict("payment", "Payment was refunded concurrently").
			WithDetails(map[string]interface{}{"refund_id": refund.ID})
	}

	s.metrics.Refunds.WithLabelValues("ok").Inc()
	refunded := payment.RefundedAmount.Add(amount)
	logger.CtxInfo(ctx, "💸 payment refunded",
		"refund_id", refund.ID,
		"amount", amount.StringFixed(2),
		"refunded_total", refunded.StringFixed(2),
		"admin_id", adminID)

	return &dto.RefundResponse{
		RefundID:       refund.ID,
		PaymentID:      gatewayPaymentID,
		Amount:         amount,
		RefundedAmount: refunded,
		Status:         refund.Status,
	}, nil
}
