package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PlanSnapshot - значение, а не ссылка: изменение тарифа не влияет на купленные подписки
type PlanSnapshot struct {
	PlanID       string          `json:"plan_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
	Limits       FeatureLimits   `json:"limits,omitempty"`
}

type AddonSnapshot struct {
	AddonID     string           `json:"addon_id"`
	Name        string           `json:"name"`
	Price       decimal.Decimal  `json:"price"`
	Category    string           `json:"category,omitempty"`
	BillingType AddonBillingType `json:"billing_type"`
}

// Subscription - на пользователя не больше одной active
// (частичный уникальный индекс, см. database/migrate.go)
type Subscription struct {
	BaseModel
	UserID         string                             `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID         string                             `gorm:"type:uuid;not null;index" json:"plan_id"`
	PlanSnapshot   datatypes.JSONType[PlanSnapshot]   `gorm:"type:jsonb;not null" json:"plan_snapshot"`
	AddonSnapshots datatypes.JSONSlice[AddonSnapshot] `gorm:"type:jsonb" json:"addon_snapshots"`
	AddonIDs       pq.StringArray                     `gorm:"type:text[]" json:"addon_ids"`
	Status         SubscriptionStatus                 `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	BillingCycle   BillingCycle                       `gorm:"type:varchar(10);not null" json:"billing_cycle"`
	StartDate      time.Time                          `gorm:"not null" json:"start_date"`
	EndDate        time.Time                          `gorm:"not null;index" json:"end_date"`
	Amount         decimal.Decimal                    `gorm:"type:numeric(12,2);not null" json:"amount"`
	CancelledAt    *time.Time                         `json:"cancelled_at,omitempty"`
	CancelReason   string                             `json:"cancel_reason,omitempty"`
}

// IsCurrent - активна и не истекла
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate.After(now)
}

func (s *Subscription) HasAddon(id string) bool {
	for _, a := range s.AddonIDs {
		if a == id {
			return true
		}
	}
	return false
}

// SubscriptionPaymentEvent - история оплат подписки, только append
type SubscriptionPaymentEvent struct {
	ID             string           `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID string           `gorm:"type:uuid;not null;index" json:"subscription_id"`
	PaymentID      string           `gorm:"type:uuid;not null;index" json:"payment_id"`
	TransactionID  string           `gorm:"not null" json:"transaction_id"`
	Kind           PaymentEventKind `gorm:"type:varchar(20);not null" json:"kind"`
	Amount         decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"amount"`
	AddonIDs       pq.StringArray   `gorm:"type:text[]" json:"addon_ids,omitempty"`
	CreatedAt      time.Time        `gorm:"not null" json:"created_at"`
}
