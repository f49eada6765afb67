// Package catalog - тарифы и аддоны: публичный список и смена цены админом
package catalog

import (
	"context"
	"errors"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"

	"github.com/samber/lo"
)

type Service interface {
	ListPlans(ctx context.Context) ([]dto.PlanResponse, error)
	ListAddons(ctx context.Context) ([]dto.AddonResponse, error)

	// Admin operations
	ChangePlanPrice(ctx context.Context, adminID, planID string, req *dto.ChangePlanPriceRequest) (*dto.PriceHistoryResponse, error)
	PriceHistory(ctx context.Context, planID string) ([]dto.PriceHistoryResponse, error)
}

type service struct {
	store        repositories.Store
	yearlyMonths int
	now          func() time.Time
}

func NewService(store repositories.Store, yearlyMonths int) Service {
	if yearlyMonths <= 0 {
		yearlyMonths = 10
	}
	return &service{store: store, yearlyMonths: yearlyMonths, now: time.Now}
}

func (s *service) ListPlans(ctx context.Context) ([]dto.PlanResponse, error) {
	plans, err := s.store.Plans().FindActive(ctx)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	return lo.Map(plans, func(p models.Plan, _ int) dto.PlanResponse {
		return dto.PlanResponse{
			ID:              p.ID,
			Name:            p.Name,
			Price:           p.PriceFor(models.BillingCycleMonthly, s.yearlyMonths),
			YearlyPrice:     p.PriceFor(models.BillingCycleYearly, s.yearlyMonths),
			Currency:        p.Currency,
			BillingPeriod:   string(p.BillingPeriod),
			Limits:          p.Limits.Data(),
			SubscriberCount: p.SubscriberCount,
		}
	}), nil
}

func (s *service) ListAddons(ctx context.Context) ([]dto.AddonResponse, error) {
	addons, err := s.store.Addons().FindActive(ctx)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	result := make([]dto.AddonResponse, 0, len(addons))
	for i := range addons {
		result = append(result, dto.NewAddonResponse(&addons[i]))
	}
	return result, nil
}

// ChangePlanPrice - новая цена действует только для новых заказов,
// у купленных подписок остается снимок
func (s *service) ChangePlanPrice(ctx context.Context, adminID, planID string, req *dto.ChangePlanPriceRequest) (*dto.PriceHistoryResponse, error) {
	// Validate admin permissions
	admin, err := s.store.Users().FindByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperrors.ErrInsufficientPermissions
		}
		return nil, apperrors.InternalError(err)
	}
	if !admin.Role.IsAdmin() {
		return nil, apperrors.ErrInsufficientPermissions
	}

	if !req.Price.IsPositive() {
		return nil, apperrors.ErrValidation("plan", "Price must be positive")
	}
	price := req.Price.Round(2)

	var entry *models.PlanPriceHistory
	err = s.store.Transaction(ctx, func(tx repositories.Store) error {
		plan, err := tx.Plans().FindByID(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Price.Equal(price) {
			return apperrors.ErrConflict("plan", "Plan already has this price")
		}
		entry, err = tx.Plans().ChangePrice(ctx, planID, price, adminID, s.now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, repositories.ErrPlanNotFound) {
			return nil, apperrors.ErrNotFound("plan", "Plan not found")
		}
		if _, ok := apperrors.AsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.InternalError(err)
	}

	logger.CtxInfo(ctx, "plan price changed",
		"plan_id", planID,
		"old_price", entry.OldPrice.StringFixed(2),
		"new_price", entry.NewPrice.StringFixed(2),
		"admin_id", adminID)

	resp := dto.NewPriceHistoryResponse(entry)
	return &resp, nil
}

func (s *service) PriceHistory(ctx context.Context, planID string) ([]dto.PriceHistoryResponse, error) {
	if _, err := s.store.Plans().FindByID(ctx, planID); err != nil {
		if errors.Is(err, repositories.ErrPlanNotFound) {
			return nil, apperrors.ErrNotFound("plan", "Plan not found")
		}
		return nil, apperrors.InternalError(err)
	}

	history, err := s.store.Plans().PriceHistory(ctx, planID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	result := make([]dto.PriceHistoryResponse, 0, len(history))
	for i := range history {
		result = append(result, dto.NewPriceHistoryResponse(&history[i]))
	}
	return result, nil
}
