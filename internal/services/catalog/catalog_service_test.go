package catalog

import (
	"context"
	"testing"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories/memory"
	"propmarket_backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func seed(t *testing.T) (*memory.Store, *models.Plan, *models.User, *models.User) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	plan := &models.Plan{
		Name:          "Standard",
		Price:         decimal.RequireFromString("999"),
		Currency:      "INR",
		BillingPeriod: models.BillingCycleMonthly,
		Limits:        datatypes.NewJSONType(models.FeatureLimits{"listings": 20}),
		IsActive:      true,
	}
	require.NoError(t, store.Plans().Create(ctx, plan))
	require.NoError(t, store.Plans().Create(ctx, &models.Plan{Name: "Retired", Price: decimal.NewFromInt(1), IsActive: false}))

	require.NoError(t, store.Addons().Create(ctx, &models.AddonService{Name: "Featured listing", Price: decimal.NewFromInt(499), Category: "visibility", IsActive: true}))
	require.NoError(t, store.Addons().Create(ctx, &models.AddonService{Name: "Legacy banner", Price: decimal.NewFromInt(99), IsActive: false}))

	admin := &models.User{Email: "admin@example.com", Role: models.UserRoleAdmin}
	require.NoError(t, store.Users().Create(ctx, admin))
	user := &models.User{Email: "user@example.com", Role: models.UserRoleUser}
	require.NoError(t, store.Users().Create(ctx, user))

	return store, plan, admin, user
}

func TestListPlans_IncludesYearlyPrice(t *testing.T) {
	store, _, _, _ := seed(t)
	svc := NewService(store, 10)

	plans, err := svc.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1, "неактивные тарифы не показываются")

	assert.Equal(t, "Standard", plans[0].Name)
	assert.True(t, decimal.RequireFromString("999").Equal(plans[0].Price))
	assert.True(t, decimal.RequireFromString("9990").Equal(plans[0].YearlyPrice))
	assert.Equal(t, 20, plans[0].Limits["listings"])
}

func TestListAddons_OnlyActive(t *testing.T) {
	store, _, _, _ := seed(t)
	svc := NewService(store, 10)

	addons, err := svc.ListAddons(context.Background())
	require.NoError(t, err)
	require.Len(t, addons, 1)
	assert.Equal(t, "Featured listing", addons[0].Name)
}

func TestChangePlanPrice(t *testing.T) {
	ctx := context.Background()
	store, plan, admin, _ := seed(t)
	svc := NewService(store, 10)

	// Подписка, купленная до изменения цены
	sub := &models.Subscription{
		UserID:       uuid.NewString(),
		PlanID:       plan.ID,
		PlanSnapshot: datatypes.NewJSONType(plan.Snapshot(models.BillingCycleMonthly)),
		Status:       models.SubscriptionStatusActive,
		BillingCycle: models.BillingCycleMonthly,
		Amount:       plan.Price,
	}
	require.NoError(t, store.Subscriptions().Create(ctx, sub))

	entry, err := svc.ChangePlanPrice(ctx, admin.ID, plan.ID, &dto.ChangePlanPriceRequest{Price: decimal.RequireFromString("1199")})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("999").Equal(entry.OldPrice))
	assert.True(t, decimal.RequireFromString("1199").Equal(entry.NewPrice))
	assert.Equal(t, admin.ID, entry.ChangedBy)

	stored, err := store.Plans().FindByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1199").Equal(stored.Price))

	history, err := svc.PriceHistory(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Снимок подписки не меняется
	existing, err := store.Subscriptions().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("999").Equal(existing.PlanSnapshot.Data().Price))
	assert.True(t, decimal.RequireFromString("999").Equal(existing.Amount))
}

func TestChangePlanPrice_Rejections(t *testing.T) {
	ctx := context.Background()
	store, plan, admin, user := seed(t)
	svc := NewService(store, 10)

	_, err := svc.ChangePlanPrice(ctx, user.ID, plan.ID, &dto.ChangePlanPriceRequest{Price: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPermissions)

	_, err = svc.ChangePlanPrice(ctx, uuid.NewString(), plan.ID, &dto.ChangePlanPriceRequest{Price: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPermissions)

	_, err = svc.ChangePlanPrice(ctx, admin.ID, uuid.NewString(), &dto.ChangePlanPriceRequest{Price: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, apperrors.ErrNotFound("plan", ""))

	_, err = svc.ChangePlanPrice(ctx, admin.ID, plan.ID, &dto.ChangePlanPriceRequest{Price: decimal.NewFromInt(-5)})
	assert.ErrorIs(t, err, apperrors.ErrValidation("plan", ""))

	_, err = svc.ChangePlanPrice(ctx, admin.ID, plan.ID, &dto.ChangePlanPriceRequest{Price: decimal.NewFromInt(999)})
	assert.ErrorIs(t, err, apperrors.ErrConflict("plan", ""))

	history, err := store.Plans().PriceHistory(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "отклоненные изменения не пишут историю")
}
