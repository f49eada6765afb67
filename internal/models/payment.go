package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentMetadata - условия заказа, зафиксированные при его создании
type PaymentMetadata struct {
	PlanID         string           `json:"plan_id,omitempty"`
	AddonIDs       []string         `json:"addon_ids,omitempty"`
	BillingCycle   BillingCycle     `json:"billing_cycle,omitempty"`
	ClientTotal    *decimal.Decimal `json:"client_total,omitempty"`
	ComputedTotal  decimal.Decimal  `json:"computed_total"`
	PlanSnapshot   *PlanSnapshot    `json:"plan_snapshot,omitempty"`
	AddonSnapshots []AddonSnapshot  `json:"addon_snapshots,omitempty"`

	// Деньги списаны, но права не изменились - кандидат на возврат
	RefundCandidate       bool   `json:"refund_candidate,omitempty"`
	RefundCandidateReason string `json:"refund_candidate_reason,omitempty"`
}

type Payment struct {
	BaseModel
	GatewayOrderID   string                              `gorm:"uniqueIndex;not null" json:"order_id"`
	GatewayPaymentID *string                             `gorm:"index" json:"payment_id,omitempty"`
	Signature        *string                             `json:"-"`
	UserID           string                              `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount           decimal.Decimal                     `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency         string                              `gorm:"type:varchar(3);not null" json:"currency"`
	Status           PaymentStatus                       `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Type             PaymentType                         `gorm:"type:varchar(32);not null" json:"type"`
	Metadata         datatypes.JSONType[PaymentMetadata] `gorm:"type:jsonb" json:"metadata"`
	GrantedAddonIDs  pq.StringArray                      `gorm:"type:text[]" json:"granted_addon_ids,omitempty"`
	CancelReason     string                              `json:"cancel_reason,omitempty"`
	ExpiresAt        time.Time                           `gorm:"not null;index" json:"expires_at"`
	PaidAt           *time.Time                          `json:"paid_at,omitempty"`
	SubscriptionID   *string                             `gorm:"type:uuid;index" json:"subscription_id,omitempty"`

	// Возвраты
	RefundID       *string         `json:"refund_id,omitempty"`
	RefundedAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"refunded_amount"`
	RefundStatus   string          `json:"refund_status,omitempty"`
	RefundReason   string          `json:"refund_reason,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
}

func (p *Payment) IsExpired(now time.Time) bool {
	return p.Status == PaymentStatusPending && !p.ExpiresAt.After(now)
}

// Refundable - сколько еще можно вернуть
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}
