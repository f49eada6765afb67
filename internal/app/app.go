package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"propmarket_backend/database"
	"propmarket_backend/internal/auth"
	"propmarket_backend/internal/config"
	"propmarket_backend/internal/email"
	"propmarket_backend/internal/gateway"
	"propmarket_backend/internal/handlers"
	"propmarket_backend/internal/locks"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/metrics"
	"propmarket_backend/internal/middleware"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/internal/repositories/memory"
	"propmarket_backend/internal/routes"
	"propmarket_backend/internal/services"
	"propmarket_backend/internal/services/catalog"
	"propmarket_backend/internal/services/payments"
	"propmarket_backend/internal/validator"
	"propmarket_backend/internal/workers"
	"propmarket_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// App - собранное приложение: хранилище, сервисы, роутер и фоновый sweeper
type App struct {
	Config   *config.Config
	Store    repositories.Store
	Services *services.ServiceContainer
	Tokens   *auth.TokenManager
	Metrics  *metrics.Payments
	Router   *gin.Engine
	Sweeper  *workers.PaymentSweeper

	closers []func() error
}

// New поднимает зависимости по конфигу. Ничего не запускает.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Tokens:  auth.NewTokenManager(cfg.JWT.Secret, cfg.TokenTTL()),
		Metrics: metrics.NewPayments(),
	}
	apperrors.SetDebug(cfg.Server.Env == "development")

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	if _, err := database.SeedFirstAdmin(ctx, store, cfg.FirstAdminEmail); err != nil {
		// Если не удалось создать админа (проблемы с БД и т.д.) - не запускаем сервер
		a.Close()
		return nil, fmt.Errorf("failed to seed first admin user: %w", err)
	}

	serviceContainer, err := initializeServices(cfg, store, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Services = serviceContainer

	a.Sweeper = workers.NewPaymentSweeper(serviceContainer.PaymentService, a.openLocker(ctx), cfg.SweepEvery())
	a.Router = SetupRouter(cfg, store, serviceContainer, a.Tokens, a.Metrics)
	return a, nil
}

// Serve - HTTP сервер и sweeper до отмены ctx, затем graceful shutdown
func (a *App) Serve(ctx context.Context) error {
	if err := a.Sweeper.Start(ctx); err != nil {
		return err
	}

	address := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	srv := &http.Server{
		Addr:              address,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("🚀 Server starting on %s", address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("🛑 Shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("Server startup error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	a.Sweeper.Stop()
	// чеки, отправленные после оплаты, дописываем до выхода
	a.Services.PaymentService.Wait()
	logger.Info("✅ Server stopped")
	return serveErr
}

// Close освобождает соединения (БД, Redis)
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (repositories.Store, error) {
	cfg := a.Config
	if cfg.Database.Driver == "memory" {
		logger.Warn("⚠️ Using in-memory store, data is lost on restart")
		store := memory.NewStore()
		if err := database.SeedCatalog(ctx, store, cfg.Payments.Currency); err != nil {
			return nil, err
		}
		return store, nil
	}

	logger.Info("Connecting to database...")
	gormDB, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)
	logger.Info("Database connected")
	return repositories.NewGormStore(gormDB), nil
}

// openLocker - Redis, если настроен, иначе блокировка в процессе (одна реплика)
func (a *App) openLocker(ctx context.Context) locks.Locker {
	cfg := a.Config
	if cfg.Redis.Addr == "" {
		logger.Warn("Redis is not configured, sweeper lock is process-local")
		return locks.NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// Sweeper переживет недоступный Redis: проход просто пропускается
		logger.Warn("Redis ping failed", "addr", cfg.Redis.Addr, "error", err)
	}
	a.closers = append(a.closers, client.Close)
	return locks.NewRedisLocker(client, "propmarket:lock:")
}

func initializeServices(cfg *config.Config, store repositories.Store, m *metrics.Payments) (*services.ServiceContainer, error) {
	var emailService email.Provider
	if cfg.Email.Enabled {
		smtp := email.NewSMTPProvider(&email.SMTPConfig{
			Host:      cfg.Email.SMTPHost,
			Port:      cfg.Email.SMTPPort,
			Username:  cfg.Email.SMTPUsername,
			Password:  cfg.Email.SMTPPassword,
			FromEmail: cfg.Email.FromEmail,
			FromName:  cfg.Email.FromName,
		})
		if err := smtp.Validate(); err != nil {
			return nil, fmt.Errorf("invalid email config: %w", err)
		}
		emailService = smtp
	} else {
		logger.Warn("Email is disabled, receipts are not sent")
		emailService = email.NoopProvider{}
	}

	receipts, err := email.NewReceiptSender(emailService)
	if err != nil {
		return nil, err
	}

	gw := gateway.NewRazorpayClient(gateway.Config{
		BaseURL:          cfg.Gateway.BaseURL,
		KeyID:            cfg.Gateway.KeyID,
		KeySecret:        cfg.Gateway.KeySecret,
		Timeout:          cfg.GatewayTimeout(),
		MaxFailures:      cfg.Gateway.MaxFailures,
		OpenTimeout:      time.Duration(cfg.Gateway.OpenTimeoutSecs) * time.Second,
		HalfOpenRequests: cfg.Gateway.HalfOpenRequests,
		Observe:          m.ObserveGateway,
	})
	if !gw.Configured() {
		logger.Warn("⚠️ Payment gateway keys are not set, orders will be rejected")
	}

	paymentService := payments.NewService(store, gw, payments.Settings{
		Currency:             cfg.Payments.Currency,
		OrderTTL:             cfg.OrderTTL(),
		YearlyBillableMonths: cfg.Payments.YearlyBillableMons,
		AmountTolerance:      cfg.AmountTolerance(),
		SweepBatchSize:       cfg.Payments.SweepBatchSize,
	}, payments.WithReceipts(receipts), payments.WithMetrics(m))

	return &services.ServiceContainer{
		PaymentService: paymentService,
		CatalogService: catalog.NewService(store, cfg.Payments.YearlyBillableMons),
		EmailService:   emailService,
	}, nil
}

func SetupRouter(cfg *config.Config, store repositories.Store, serviceContainer *services.ServiceContainer, tokens *auth.TokenManager, m *metrics.Payments) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	appHandlers := handlers.NewAppHandlers(serviceContainer, validator.New(), tokens)

	ginRouter := initializeGinRouter(cfg, m)
	routes.RegisterRoutes(ginRouter, appHandlers, m.Handler(), store)
	return ginRouter
}

func initializeGinRouter(cfg *config.Config, m *metrics.Payments) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(m.GinMiddleware())
	return router
}
