package repositories

import (
	"context"
	"errors"
	"time"

	"propmarket_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepositoryImpl struct {
	db *gorm.DB
}

func (r *SubscriptionRepositoryImpl) Create(ctx context.Context, sub *models.Subscription) error {
	err := r.db.WithContext(ctx).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// сработал частичный индекс uniq_active_subscription_per_user
		return ErrActiveSubscriptionExists
	}
	return err
}

func (r *SubscriptionRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, notFound(err, ErrSubscriptionNotFound)
	}
	return &sub, nil
}

func (r *SubscriptionRepositoryImpl) FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, models.SubscriptionStatusActive, now).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, notFound(err, ErrSubscriptionNotFound)
	}
	return &sub, nil
}

func (r *SubscriptionRepositoryImpl) LockByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sub).Error
	if err != nil {
		return nil, notFound(err, ErrSubscriptionNotFound)
	}
	return &sub, nil
}

func (r *SubscriptionRepositoryImpl) SaveAddons(ctx context.Context, sub *models.Subscription) error {
	result := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, models.SubscriptionStatusActive).
		Updates(map[string]interface{}{
			"addon_ids":       sub.AddonIDs,
			"addon_snapshots": sub.AddonSnapshots,
			"amount":          sub.Amount,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) CancelActiveForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Updates(map[string]interface{}{
			"status":        models.SubscriptionStatusCancelled,
			"cancelled_at":  at,
			"cancel_reason": reason,
		})
	return result.RowsAffected, result.Error
}

func (r *SubscriptionRepositoryImpl) Cancel(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, models.SubscriptionStatusActive).
		Updates(map[string]interface{}{
			"status":        models.SubscriptionStatusCancelled,
			"cancelled_at":  at,
			"cancel_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *SubscriptionRepositoryImpl) ExpireEnded(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND end_date <= ?", models.SubscriptionStatusActive, now).
		Update("status", models.SubscriptionStatusExpired)
	return result.RowsAffected, result.Error
}

func (r *SubscriptionRepositoryImpl) AppendEvent(ctx context.Context, event *models.SubscriptionPaymentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *SubscriptionRepositoryImpl) Events(ctx context.Context, subscriptionID string) ([]models.SubscriptionPaymentEvent, error) {
	var events []models.SubscriptionPaymentEvent
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
