package repositories

import (
	"context"
	"time"

	"propmarket_backend/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PlanRepositoryImpl struct {
	db *gorm.DB
}

func (r *PlanRepositoryImpl) Create(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *PlanRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err, ErrPlanNotFound)
	}
	return &plan, nil
}

func (r *PlanRepositoryImpl) FindActive(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&plans).Error
	return plans, err
}

func (r *PlanRepositoryImpl) IncrementSubscribers(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Plan{}).
		Where("id = ?", id).
		UpdateColumn("subscriber_count", gorm.Expr("subscriber_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (r *PlanRepositoryImpl) ChangePrice(ctx context.Context, id string, price decimal.Decimal, changedBy string, at time.Time) (*models.PlanPriceHistory, error) {
	db := r.db.WithContext(ctx)

	var plan models.Plan
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err, ErrPlanNotFound)
	}

	oldPrice := plan.Price
	if err := db.Model(&models.Plan{}).Where("id = ?", id).Update("price", price).Error; err != nil {
		return nil, err
	}

	entry := &models.PlanPriceHistory{
		ID:        uuid.NewString(),
		PlanID:    id,
		OldPrice:  oldPrice,
		NewPrice:  price,
		ChangedBy: changedBy,
		ChangedAt: at,
	}
	if err := db.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *PlanRepositoryImpl) PriceHistory(ctx context.Context, id string) ([]models.PlanPriceHistory, error) {
	var history []models.PlanPriceHistory
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", id).
		Order("changed_at ASC").
		Find(&history).Error
	return history, err
}
