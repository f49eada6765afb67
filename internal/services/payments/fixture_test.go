package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/email"
	"propmarket_backend/internal/gateway/gatewaytest"
	"propmarket_backend/internal/metrics"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories/memory"
	"propmarket_backend/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctx     context.Context
	store   *memory.Store
	gw      *gatewaytest.Fake
	clock   *testClock
	metrics *metrics.Payments
	mail    *email.RecordingProvider
	svc     Service

	user     *models.User
	standard *models.Plan
	premium  *models.Plan
	featured *models.AddonService // A
	photos   *models.AddonService // B
	support  *models.AddonService // C
	retired  *models.AddonService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:     context.Background(),
		store:   memory.NewStore(),
		gw:      gatewaytest.NewFake(),
		clock:   &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		metrics: metrics.NewPayments(),
		mail:    &email.RecordingProvider{},
	}

	receipts, err := email.NewReceiptSender(f.mail)
	require.NoError(t, err)

	f.svc = NewService(f.store, f.gw, Settings{
		Currency:             "INR",
		OrderTTL:             15 * time.Minute,
		YearlyBillableMonths: 10,
		AmountTolerance:      decimal.RequireFromString("0.01"),
		SweepBatchSize:       2,
	}, WithClock(f.clock.Now), WithMetrics(f.metrics), WithReceipts(receipts))
	t.Cleanup(f.svc.Wait)

	f.user = f.createUser(t, "buyer@example.com")
	f.standard = f.createPlan(t, "Standard", "999", true)
	f.premium = f.createPlan(t, "Premium", "2499", true)
	f.featured = f.createAddon(t, "Featured listing", "499", true)
	f.photos = f.createAddon(t, "Photo boost", "199", true)
	f.support = f.createAddon(t, "Priority support", "299", true)
	f.retired = f.createAddon(t, "Legacy banner", "99", false)
	return f
}

func (f *fixture) createUser(t *testing.T, addr string) *models.User {
	t.Helper()
	u := &models.User{Email: addr, Name: "Test Buyer", Role: models.UserRoleUser}
	require.NoError(t, f.store.Users().Create(f.ctx, u))
	return u
}

func (f *fixture) createPlan(t *testing.T, name, price string, active bool) *models.Plan {
	t.Helper()
	p := &models.Plan{
		Name:          name,
		Price:         decimal.RequireFromString(price),
		Currency:      "INR",
		BillingPeriod: models.BillingCycleMonthly,
		Limits:        datatypes.NewJSONType(models.FeatureLimits{"listings": 20}),
		IsActive:      active,
	}
	require.NoError(t, f.store.Plans().Create(f.ctx, p))
	return p
}

func (f *fixture) createAddon(t *testing.T, name, price string, active bool) *models.AddonService {
	t.Helper()
	a := &models.AddonService{
		Name:        name,
		Price:       decimal.RequireFromString(price),
		Category:    "visibility",
		BillingType: models.AddonBillingOneTime,
		IsActive:    active,
	}
	require.NoError(t, f.store.Addons().Create(f.ctx, a))
	return a
}

// signed - то, что вернул бы checkout шлюза после оплаты
func (f *fixture) signed(orderID string) *dto.VerifyPaymentRequest {
	paymentID := "pay_" + orderID
	return &dto.VerifyPaymentRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: f.gw.Sign(orderID, paymentID),
	}
}

func (f *fixture) orderSubscription(t *testing.T, userID string, plan *models.Plan, cycle models.BillingCycle, addons ...*models.AddonService) *dto.OrderResponse {
	t.Helper()
	ids := make([]string, 0, len(addons))
	for _, a := range addons {
		ids = append(ids, a.ID)
	}
	order, err := f.svc.CreateSubscriptionOrder(f.ctx, userID, &dto.CreateSubscriptionOrderRequest{
		PlanID:       plan.ID,
		BillingCycle: string(cycle),
		AddonIDs:     ids,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) subscribe(t *testing.T, userID string, plan *models.Plan, cycle models.BillingCycle, addons ...*models.AddonService) *dto.VerifyPaymentResponse {
	t.Helper()
	order := f.orderSubscription(t, userID, plan, cycle, addons...)
	resp, err := f.svc.VerifySubscriptionPayment(f.ctx, userID, f.signed(order.OrderID))
	require.NoError(t, err)
	return resp
}

func (f *fixture) orderAddons(t *testing.T, userID string, addons ...*models.AddonService) *dto.OrderResponse {
	t.Helper()
	ids := make([]string, 0, len(addons))
	for _, a := range addons {
		ids = append(ids, a.ID)
	}
	order, err := f.svc.CreateAddonOrder(f.ctx, userID, &dto.CreateAddonOrderRequest{AddonIDs: ids})
	require.NoError(t, err)
	return order
}

func (f *fixture) payment(t *testing.T, orderID string) *models.Payment {
	t.Helper()
	p, err := f.store.Payments().FindByOrderID(f.ctx, orderID)
	require.NoError(t, err)
	return p
}

func (f *fixture) subscription(t *testing.T, id string) *models.Subscription {
	t.Helper()
	s, err := f.store.Subscriptions().FindByID(f.ctx, id)
	require.NoError(t, err)
	return s
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "expected %s, got %s", want, got.StringFixed(2))
}

func assertAppError(t *testing.T, err error, code apperrors.ErrorCode, httpCode int) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, httpCode, appErr.HTTPCode)
}
