package dto

import (
	"time"

	"propmarket_backend/internal/models"

	"github.com/shopspring/decimal"
)

type PlanResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price" swaggertype:"string"`
	YearlyPrice     decimal.Decimal `json:"yearly_price" swaggertype:"string"`
	Currency        string          `json:"currency"`
	BillingPeriod   string          `json:"billing_period"`
	Limits          map[string]int  `json:"limits"`
	SubscriberCount int64           `json:"subscriber_count"`
}

type AddonResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price" swaggertype:"string"`
	Category    string          `json:"category"`
	BillingType string          `json:"billing_type"`
}

type ChangePlanPriceRequest struct {
	Price decimal.Decimal `json:"price" validate:"required,gt=0" swaggertype:"string" example:"1199.00"`
}

type PriceHistoryResponse struct {
	PlanID    string          `json:"plan_id"`
	OldPrice  decimal.Decimal `json:"old_price" swaggertype:"string"`
	NewPrice  decimal.Decimal `json:"new_price" swaggertype:"string"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

func NewAddonResponse(a *models.AddonService) AddonResponse {
	return AddonResponse{
		ID:          a.ID,
		Name:        a.Name,
		Price:       a.Price,
		Category:    a.Category,
		BillingType: string(a.BillingType),
	}
}

func NewPriceHistoryResponse(h *models.PlanPriceHistory) PriceHistoryResponse {
	return PriceHistoryResponse{
		PlanID:    h.PlanID,
		OldPrice:  h.OldPrice,
		NewPrice:  h.NewPrice,
		ChangedBy: h.ChangedBy,
		ChangedAt: h.ChangedAt,
	}
}
