package repositories

import (
	"context"

	"propmarket_backend/internal/models"

	"gorm.io/gorm"
)

type AddonRepositoryImpl struct {
	db *gorm.DB
}

func (r *AddonRepositoryImpl) Create(ctx context.Context, addon *models.AddonService) error {
	return r.db.WithContext(ctx).Create(addon).Error
}

// FindByIDs - отсутствующие id просто не попадают в результат
func (r *AddonRepositoryImpl) FindByIDs(ctx context.Context, ids []string) ([]models.AddonService, error) {
	var addons []models.AddonService
	if len(ids) == 0 {
		return addons, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&addons).Error
	return addons, err
}

func (r *AddonRepositoryImpl) FindActive(ctx context.Context) ([]models.AddonService, error) {
	var addons []models.AddonService
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("category ASC, price ASC").
		Find(&addons).Error
	return addons, err
}
