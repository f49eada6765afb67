// Package payments - платежное ядро: заказы, верификация оплаты, подписки и аддоны,
// возвраты, сверка со шлюзом и очистка просроченных заказов.
package payments

import (
	"context"
	"sync"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/email"
	"propmarket_backend/internal/gateway"
	"propmarket_backend/internal/metrics"
	"propmarket_backend/internal/repositories"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type Service interface {
	// Orders
	CreateSubscriptionOrder(ctx context.Context, userID string, req *dto.CreateSubscriptionOrderRequest) (*dto.OrderResponse, error)
	CreateAddonOrder(ctx context.Context, userID string, req *dto.CreateAddonOrderRequest) (*dto.OrderResponse, error)

	// Verification
	VerifySubscriptionPayment(ctx context.Context, userID string, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error)
	VerifyAddonPayment(ctx context.Context, userID string, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error)

	// Reads
	GetPaymentStatus(ctx context.Context, userID string, isAdmin bool, orderID string) (*dto.PaymentStatusResponse, error)
	GetMySubscription(ctx context.Context, userID string) (*dto.SubscriptionResponse, error)

	// Admin
	Refund(ctx context.Context, adminID, gatewayPaymentID string, req *dto.RefundRequest) (*dto.RefundResponse, error)
	Reconcile(ctx context.Context, orderID, gatewayPaymentID string) (*dto.VerifyPaymentResponse, error)
	SweepExpired(ctx context.Context) (*dto.SweepResponse, error)
	Stats(ctx context.Context) (*dto.PaymentStatsResponse, error)

	// Wait дожидается фоновых уведомлений (graceful shutdown)
	Wait()
}

// ReceiptNotifier - отправка чеков; ошибки только логируются
type ReceiptNotifier interface {
	SendReceipt(ctx context.Context, r email.Receipt) error
}

type Settings struct {
	Currency             string
	OrderTTL             time.Duration
	YearlyBillableMonths int
	AmountTolerance      decimal.Decimal
	SweepBatchSize       int
}

func DefaultSettings() Settings {
	return Settings{
		Currency:             "INR",
		OrderTTL:             15 * time.Minute,
		YearlyBillableMonths: 10,
		AmountTolerance:      decimal.RequireFromString("0.01"),
		SweepBatchSize:       100,
	}
}

type Option func(*service)

// WithClock - подмена времени (тесты)
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

func WithReceipts(n ReceiptNotifier) Option {
	return func(s *service) {
		s.receipts = n
	}
}

func WithMetrics(m *metrics.Payments) Option {
	return func(s *service) {
		s.metrics = m
	}
}

type service struct {
	store    repositories.Store
	gateway  gateway.Gateway
	receipts ReceiptNotifier
	metrics  *metrics.Payments
	settings Settings
	now      func() time.Time

	// Параллельные верификации одного заказа схлопываются в один вызов
	verifyGroup singleflight.Group
	background  sync.WaitGroup
}

func NewService(store repositories.Store, gw gateway.Gateway, settings Settings, opts ...Option) Service {
	defaults := DefaultSettings()
	if settings.Currency == "" {
		settings.Currency = defaults.Currency
	}
	if settings.OrderTTL <= 0 {
		settings.OrderTTL = defaults.OrderTTL
	}
	if settings.YearlyBillableMonths <= 0 {
		settings.YearlyBillableMonths = defaults.YearlyBillableMonths
	}
	if settings.AmountTolerance.IsZero() {
		settings.AmountTolerance = defaults.AmountTolerance
	}
	if settings.SweepBatchSize <= 0 {
		settings.SweepBatchSize = defaults.SweepBatchSize
	}

	s := &service{
		store:    store,
		gateway:  gw,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewPayments()
	}
	return s
}

func (s *service) Wait() {
	s.background.Wait()
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}
