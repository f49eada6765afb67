package payments

import (
	"context"
	"testing"
	"time"

	"propmarket_backend/internal/metrics"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// brokenLockStore - LockByOrderID падает для выбранных заказов, в том числе внутри транзакции
type brokenLockStore struct {
	repositories.Store
	broken map[string]bool
}

func (s *brokenLockStore) Payments() repositories.PaymentRepository {
	return &brokenLockPayments{PaymentRepository: s.Store.Payments(), broken: s.broken}
}

func (s *brokenLockStore) Transaction(ctx context.Context, fn func(tx repositories.Store) error) error {
	return s.Store.Transaction(ctx, func(tx repositories.Store) error {
		return fn(&brokenLockStore{Store: tx, broken: s.broken})
	})
}

type brokenLockPayments struct {
	repositories.PaymentRepository
	broken map[string]bool
}

func (p *brokenLockPayments) LockByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	if p.broken[orderID] {
		return nil, assert.AnError
	}
	return p.PaymentRepository.LockByOrderID(ctx, orderID)
}

func TestSweepExpired_CancelsExpiredPending(t *testing.T) {
	f := newFixture(t)
	expired := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)

	// 1. До истечения TTL ничего не трогаем
	res, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Cancelled)
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, expired.OrderID).Status)

	// 2. После TTL платеж отменяется с причиной
	f.clock.Advance(15 * time.Minute)
	fresh := f.orderSubscription(t, f.user.ID, f.premium, models.BillingCycleMonthly)

	res, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)

	p := f.payment(t, expired.OrderID)
	assert.Equal(t, models.PaymentStatusCancelled, p.Status)
	assert.Equal(t, models.CancelReasonTimeout, p.CancelReason)
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, fresh.OrderID).Status)

	// 3. Поздняя верификация - уже финализирован
	_, err = f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(expired.OrderID))
	assert.ErrorIs(t, err, apperrors.ErrPaymentAlreadyFinalized)
	assert.Equal(t, models.PaymentStatusCancelled, f.payment(t, expired.OrderID).Status)

	// 4. Повторный проход - no-op
	res, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Cancelled)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweptPayments.WithLabelValues("cancelled")))
}

func TestSweepExpired_WalksAllBatches(t *testing.T) {
	f := newFixture(t)

	// Размер пачки в фикстуре 2
	const orders = 5
	for i := 0; i < orders; i++ {
		u := f.createUser(t, "bulk@example.com")
		f.orderSubscription(t, u.ID, f.standard, models.BillingCycleMonthly)
	}
	f.clock.Advance(time.Hour)

	res, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, orders, res.Cancelled)

	stats, err := f.store.Payments().Stats(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, orders, stats.ByStatus[models.PaymentStatusCancelled])
	assert.Zero(t, stats.ByStatus[models.PaymentStatusPending])
}

func TestSweepExpired_PaidPaymentsUntouched(t *testing.T) {
	f := newFixture(t)
	resp := f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	f.clock.Advance(time.Hour)

	res, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Cancelled)

	sub := f.subscription(t, resp.Subscription.ID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestSweepExpired_ExpiresEndedSubscriptions(t *testing.T) {
	f := newFixture(t)
	resp := f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly)

	f.clock.Advance(31 * 24 * time.Hour)

	res, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.SubscriptionsExpired)
	assert.Equal(t, models.SubscriptionStatusExpired, f.subscription(t, resp.Subscription.ID).Status)

	_, err = f.svc.GetMySubscription(f.ctx, f.user.ID)
	assert.ErrorIs(t, err, apperrors.ErrNoActiveSubscription)
}

func TestSweepExpired_RaceWithVerificationIsNoop(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	f.clock.Advance(20 * time.Minute)

	// Верификация успела раньше sweeper
	_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
	require.NoError(t, err)

	s := f.svc.(*service)
	cancelled, subCancelled, err := s.expirePayment(f.ctx, order.OrderID, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.False(t, subCancelled)
	assert.Equal(t, models.PaymentStatusPaid, f.payment(t, order.OrderID).Status)
}

func TestSweepExpired_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	res, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err, "ошибки отдельных строк не прерывают проход")
	assert.Equal(t, 0, res.Cancelled)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweptPayments.WithLabelValues("error")))
}

func TestSweepExpired_CancelsSubscriptionLinkedToPendingOrder(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	p := f.payment(t, order.OrderID)

	// Подписка, привязанная к еще не оплаченному заказу
	sub := &models.Subscription{
		UserID: f.user.ID,
		PlanID: f.standard.ID,
		PlanSnapshot: datatypes.NewJSONType(models.PlanSnapshot{
			PlanID: f.standard.ID,
			Name:   f.standard.Name,
			Price:  f.standard.Price,
		}),
		AddonIDs:     pq.StringArray{},
		Status:       models.SubscriptionStatusActive,
		BillingCycle: models.BillingCycleMonthly,
		StartDate:    f.clock.Now(),
		EndDate:      f.clock.Now().AddDate(0, 1, 0),
		Amount:       f.standard.Price,
	}
	require.NoError(t, f.store.Subscriptions().Create(f.ctx, sub))
	require.NoError(t, f.store.Payments().RecordOutcome(f.ctx, p.ID, repositories.PaymentOutcome{
		SubscriptionID: &sub.ID,
		Metadata:       p.Metadata.Data(),
	}))

	f.clock.Advance(20 * time.Minute)

	res, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, 1, res.SubscriptionsCancelled)
	assert.Equal(t, models.PaymentStatusCancelled, f.payment(t, order.OrderID).Status)

	got := f.subscription(t, sub.ID)
	assert.Equal(t, models.SubscriptionStatusCancelled, got.Status)
	assert.Equal(t, models.CancelReasonTimeout, got.CancelReason)
	assert.NotNil(t, got.CancelledAt)
}

func TestSweepExpired_FailingRowsDoNotBlockLaterOnes(t *testing.T) {
	f := newFixture(t)

	// 1. Два самых старых заказа не удается заблокировать
	broken := map[string]bool{}
	for i := 0; i < 2; i++ {
		u := f.createUser(t, "stuck@example.com")
		broken[f.orderSubscription(t, u.ID, f.standard, models.BillingCycleMonthly).OrderID] = true
	}

	// 2. Более поздние заказы за пределами первой пачки
	f.clock.Advance(time.Minute)
	var later []string
	for i := 0; i < 3; i++ {
		u := f.createUser(t, "later@example.com")
		later = append(later, f.orderSubscription(t, u.ID, f.standard, models.BillingCycleMonthly).OrderID)
	}
	f.clock.Advance(time.Hour)

	m := metrics.NewPayments()
	svc := NewService(&brokenLockStore{Store: f.store, broken: broken}, f.gw, Settings{
		Currency:       "INR",
		OrderTTL:       15 * time.Minute,
		SweepBatchSize: 2,
	}, WithClock(f.clock.Now), WithMetrics(m))
	t.Cleanup(svc.Wait)

	res, err := svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Cancelled)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweptPayments.WithLabelValues("error")))

	for _, orderID := range later {
		assert.Equal(t, models.PaymentStatusCancelled, f.payment(t, orderID).Status)
	}
	for orderID := range broken {
		assert.Equal(t, models.PaymentStatusPending, f.payment(t, orderID).Status)
	}
}
