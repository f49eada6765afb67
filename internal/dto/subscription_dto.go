package dto

import (
	"time"

	"propmarket_backend/internal/models"

	"github.com/shopspring/decimal"
)

type PlanSnapshotDTO struct {
	PlanID       string          `json:"plan_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price" swaggertype:"string"`
	Currency     string          `json:"currency"`
	BillingCycle string          `json:"billing_cycle"`
	Limits       map[string]int  `json:"limits,omitempty"`
}

type AddonSnapshotDTO struct {
	AddonID     string          `json:"addon_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price" swaggertype:"string"`
	Category    string          `json:"category,omitempty"`
	BillingType string          `json:"billing_type"`
}

type SubscriptionResponse struct {
	ID           string             `json:"id"`
	PlanID       string             `json:"plan_id"`
	Plan         PlanSnapshotDTO    `json:"plan"`
	Addons       []AddonSnapshotDTO `json:"addons"`
	AddonIDs     []string           `json:"addon_ids"`
	Status       string             `json:"status"`
	BillingCycle string             `json:"billing_cycle"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date"`
	Amount       decimal.Decimal    `json:"amount" swaggertype:"string"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
}

func NewAddonSnapshotDTO(a models.AddonSnapshot) AddonSnapshotDTO {
	return AddonSnapshotDTO{
		AddonID:     a.AddonID,
		Name:        a.Name,
		Price:       a.Price,
		Category:    a.Category,
		BillingType: string(a.BillingType),
	}
}

func NewAddonSnapshotDTOs(in []models.AddonSnapshot) []AddonSnapshotDTO {
	out := make([]AddonSnapshotDTO, 0, len(in))
	for _, a := range in {
		out = append(out, NewAddonSnapshotDTO(a))
	}
	return out
}

func NewSubscriptionResponse(s *models.Subscription) *SubscriptionResponse {
	if s == nil {
		return nil
	}
	plan := s.PlanSnapshot.Data()
	addonIDs := []string(s.AddonIDs)
	if addonIDs == nil {
		addonIDs = []string{}
	}
	return &SubscriptionResponse{
		ID:     s.ID,
		PlanID: s.PlanID,
		Plan: PlanSnapshotDTO{
			PlanID:       plan.PlanID,
			Name:         plan.Name,
			Price:        plan.Price,
			Currency:     plan.Currency,
			BillingCycle: string(plan.BillingCycle),
			Limits:       plan.Limits,
		},
		Addons:       NewAddonSnapshotDTOs(s.AddonSnapshots),
		AddonIDs:     addonIDs,
		Status:       string(s.Status),
		BillingCycle: string(s.BillingCycle),
		StartDate:    s.StartDate,
		EndDate:      s.EndDate,
		Amount:       s.Amount,
		CancelledAt:  s.CancelledAt,
	}
}
