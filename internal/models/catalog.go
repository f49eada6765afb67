package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// FeatureLimits - лимиты тарифа: {"listings": 20, "featured_listings": 2}
type FeatureLimits map[string]int

type Plan struct {
	BaseModel
	Name            string                            `gorm:"not null;uniqueIndex" json:"name"`
	Price           decimal.Decimal                   `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency        string                            `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	BillingPeriod   BillingCycle                      `gorm:"type:varchar(10);not null;default:'monthly'" json:"billing_period"`
	Limits          datatypes.JSONType[FeatureLimits] `gorm:"type:jsonb" json:"limits"`
	IsActive        bool                              `gorm:"default:true" json:"is_active"`
	SubscriberCount int64                             `gorm:"not null;default:0" json:"subscriber_count"`
}

// PlanPriceHistory - только append, строки не обновляются и не удаляются
type PlanPriceHistory struct {
	ID        string          `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID    string          `gorm:"type:uuid;not null;index" json:"plan_id"`
	OldPrice  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"old_price"`
	NewPrice  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"new_price"`
	ChangedBy string          `gorm:"not null" json:"changed_by"`
	ChangedAt time.Time       `gorm:"not null" json:"changed_at"`
}

func (PlanPriceHistory) TableName() string {
	return "plan_price_history"
}

type AddonService struct {
	BaseModel
	Name        string           `gorm:"not null" json:"name"`
	Price       decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"price"`
	Category    string           `gorm:"index" json:"category"`
	BillingType AddonBillingType `gorm:"type:varchar(20);not null;default:'one_time'" json:"billing_type"`
	IsActive    bool             `gorm:"default:true" json:"is_active"`
}

// PriceFor - цена тарифа за период. Price - месячная цена,
// за год платится yearlyMonths месяцев (10 = два месяца в подарок).
func (p *Plan) PriceFor(cycle BillingCycle, yearlyMonths int) decimal.Decimal {
	if cycle == BillingCycleYearly {
		return p.Price.Mul(decimal.NewFromInt(int64(yearlyMonths))).Round(2)
	}
	return p.Price.Round(2)
}

// Snapshot - копия тарифа на момент покупки
func (p *Plan) Snapshot(cycle BillingCycle) PlanSnapshot {
	limits := FeatureLimits{}
	for k, v := range p.Limits.Data() {
		limits[k] = v
	}
	return PlanSnapshot{
		PlanID:       p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Currency:     p.Currency,
		BillingCycle: cycle,
		Limits:       limits,
	}
}

func (a *AddonService) Snapshot() AddonSnapshot {
	return AddonSnapshot{
		AddonID:     a.ID,
		Name:        a.Name,
		Price:       a.Price,
		Category:    a.Category,
		BillingType: a.BillingType,
	}
}
