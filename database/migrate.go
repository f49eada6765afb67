package database

import (
	"context"
	"errors"
	"fmt"

	"propmarket_backend/internal/config"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect открывает postgres через pgx. TranslateError превращает
// нарушение уникальности в gorm.ErrDuplicatedKey.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.Server.Env == "production" {
		level = gormlogger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get *sql.DB from GORM: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

// AutoMigrate выполняет миграцию всех моделей
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.PlanPriceHistory{},
		&models.AddonService{},
		&models.Payment{},
		&models.Subscription{},
		&models.SubscriptionPaymentEvent{},
	)
	if err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}

	// Не больше одной активной подписки на пользователя - последний рубеж
	// после advisory lock в транзакции верификации
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_subscription_per_user
		ON subscriptions (user_id) WHERE status = 'active'`).Error; err != nil {
		return fmt.Errorf("create partial unique index: %w", err)
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_payments_pending_expires
		ON payments (expires_at) WHERE status = 'pending'`).Error; err != nil {
		return fmt.Errorf("create pending index: %w", err)
	}

	logger.Info("✅ AutoMigrate успешно завершен.")
	return nil
}

// SeedCatalog создает стартовые тарифы и аддоны, если каталог пуст
func SeedCatalog(ctx context.Context, store repositories.Store, currency string) error {
	plans, err := store.Plans().FindActive(ctx)
	if err != nil {
		return err
	}
	if len(plans) > 0 {
		return nil
	}

	return store.Transaction(ctx, func(tx repositories.Store) error {
		for _, p := range defaultPlans(currency) {
			plan := p
			if err := tx.Plans().Create(ctx, &plan); err != nil {
				return fmt.Errorf("seed plan %s: %w", plan.Name, err)
			}
		}
		for _, a := range defaultAddons() {
			addon := a
			if err := tx.Addons().Create(ctx, &addon); err != nil {
				return fmt.Errorf("seed addon %s: %w", addon.Name, err)
			}
		}
		logger.CtxInfo(ctx, "🌱 catalog seeded")
		return nil
	})
}

// SeedFirstAdmin создает админа с указанным email, если его еще нет.
// Паролей здесь нет: токен выпускается командой `token`.
func SeedFirstAdmin(ctx context.Context, store repositories.Store, email string) (*models.User, error) {
	if email == "" {
		logger.Warn("FIRST_ADMIN_EMAIL is not set. Skipping admin seeding.")
		return nil, nil
	}

	existing, err := store.Users().FindByEmail(ctx, email)
	if err == nil {
		logger.Info("Admin user already exists. Skipping creation.", "email", email)
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check for admin user: %w", err)
	}

	admin := &models.User{Email: email, Name: "Administrator", Role: models.UserRoleSuperAdmin}
	if err := store.Users().Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	logger.Info("✅ Successfully created first admin user", "email", email, "user_id", admin.ID)
	return admin, nil
}

func defaultPlans(currency string) []models.Plan {
	mk := func(name, price string, limits models.FeatureLimits) models.Plan {
		return models.Plan{
			Name:          name,
			Price:         decimal.RequireFromString(price),
			Currency:      currency,
			BillingPeriod: models.BillingCycleMonthly,
			Limits:        datatypes.NewJSONType(limits),
			IsActive:      true,
		}
	}
	return []models.Plan{
		mk("Standard", "999", models.FeatureLimits{"listings": 20, "featured_listings": 2}),
		mk("Premium", "2499", models.FeatureLimits{"listings": 100, "featured_listings": 10}),
	}
}

func defaultAddons() []models.AddonService {
	mk := func(name, price, category string) models.AddonService {
		return models.AddonService{
			Name:        name,
			Price:       decimal.RequireFromString(price),
			Category:    category,
			BillingType: models.AddonBillingOneTime,
			IsActive:    true,
		}
	}
	return []models.AddonService{
		mk("Featured listing boost", "499", "visibility"),
		mk("Professional photos", "199", "media"),
		mk("Priority support", "299", "support"),
	}
}
