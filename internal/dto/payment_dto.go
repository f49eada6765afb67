package dto

import (
	"time"

	"propmarket_backend/internal/models"

	"github.com/shopspring/decimal"
)

// ============================================
// Requests
// ============================================

type CreateSubscriptionOrderRequest struct {
	PlanID       string           `json:"plan_id" validate:"required,uuid" example:"5b0c3e52-3c55-4a43-9d55-0a1f9f0e1f11"`
	BillingCycle string           `json:"billing_cycle" validate:"required,is-billing-cycle" example:"yearly"`
	AddonIDs     []string         `json:"addon_ids" validate:"omitempty,max=20,dive,uuid"`
	ClientTotal  *decimal.Decimal `json:"client_total,omitempty" swaggertype:"string" example:"9990.00"`
}

type CreateAddonOrderRequest struct {
	AddonIDs    []string         `json:"addon_ids" validate:"required,min=1,max=20,dive,uuid"`
	ClientTotal *decimal.Decimal `json:"client_total,omitempty" swaggertype:"string" example:"499.00"`
}

// VerifyPaymentRequest - то, что checkout шлюза возвращает клиенту после оплаты
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required,max=64" example:"order_NAbc123"`
	PaymentID string `json:"payment_id" validate:"required,max=64" example:"pay_NAbc456"`
	Signature string `json:"signature" validate:"required,hexadecimal,len=64"`
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty" swaggertype:"string" example:"499.00"`
	Reason string           `json:"reason" validate:"max=255" example:"duplicate purchase"`
}

type ReconcileRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=64" example:"pay_NAbc456"`
}

// ============================================
// Responses
// ============================================

type OrderResponse struct {
	OrderID   string             `json:"order_id"`
	PaymentID string             `json:"payment_id"`
	Type      models.PaymentType `json:"type"`
	Amount    decimal.Decimal    `json:"amount" swaggertype:"string"`
	Currency  string             `json:"currency"`
	KeyID     string             `json:"key_id"`
	ExpiresAt time.Time          `json:"expires_at"`
}

type VerifyPaymentResponse struct {
	OrderID          string                `json:"order_id"`
	Status           models.PaymentStatus  `json:"status"`
	AlreadyProcessed bool                  `json:"already_processed"`
	Subscription     *SubscriptionResponse `json:"subscription,omitempty"`
	GrantedAddons    []AddonSnapshotDTO    `json:"granted_addons"`
}

type PaymentStatusResponse struct {
	OrderID         string               `json:"order_id"`
	Status          models.PaymentStatus `json:"status"`
	Type            models.PaymentType   `json:"type"`
	Amount          decimal.Decimal      `json:"amount" swaggertype:"string"`
	Currency        string               `json:"currency"`
	ExpiresAt       time.Time            `json:"expires_at"`
	PaidAt          *time.Time           `json:"paid_at,omitempty"`
	CancelReason    string               `json:"cancel_reason,omitempty"`
	SubscriptionID  *string              `json:"subscription_id,omitempty"`
	GrantedAddonIDs []string             `json:"granted_addon_ids"`
	RefundedAmount  decimal.Decimal      `json:"refunded_amount" swaggertype:"string"`
	RefundCandidate bool                 `json:"refund_candidate"`
}

type RefundResponse struct {
	RefundID       string          `json:"refund_id"`
	PaymentID      string          `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount" swaggertype:"string"`
	RefundedAmount decimal.Decimal `json:"refunded_amount" swaggertype:"string"`
	Status         string          `json:"status"`
}

type SweepResponse struct {
	Cancelled              int   `json:"cancelled"`
	Skipped                int   `json:"skipped"`
	SubscriptionsCancelled int   `json:"subscriptions_cancelled"`
	SubscriptionsExpired   int64 `json:"subscriptions_expired"`
}

type PaymentStatsResponse struct {
	ByStatus      map[string]int64 `json:"by_status"`
	ByType        map[string]int64 `json:"by_type"`
	PaidRevenue   decimal.Decimal  `json:"paid_revenue" swaggertype:"string"`
	RefundedTotal decimal.Decimal  `json:"refunded_total" swaggertype:"string"`
}

func NewPaymentStatusResponse(p *models.Payment) *PaymentStatusResponse {
	granted := []string(p.GrantedAddonIDs)
	if granted == nil {
		granted = []string{}
	}
	return &PaymentStatusResponse{
		OrderID:         p.GatewayOrderID,
		Status:          p.Status,
		Type:            p.Type,
		Amount:          p.Amount,
		Currency:        p.Currency,
		ExpiresAt:       p.ExpiresAt,
		PaidAt:          p.PaidAt,
		CancelReason:    p.CancelReason,
		SubscriptionID:  p.SubscriptionID,
		GrantedAddonIDs: granted,
		RefundedAmount:  p.RefundedAmount,
		RefundCandidate: p.Metadata.Data().RefundCandidate,
	}
}
