package payments

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/models"
	"propmarket_backend/pkg/apperrors"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySubscriptionPayment_ActivatesSubscription(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleYearly, f.featured)

	resp, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPaid, resp.Status)
	assert.False(t, resp.AlreadyProcessed)
	require.NotNil(t, resp.Subscription)
	assert.Equal(t, "active", resp.Subscription.Status)
	assert.Equal(t, "yearly", resp.Subscription.BillingCycle)
	assertMoney(t, "10489", resp.Subscription.Amount)
	assert.Equal(t, []string{f.featured.ID}, resp.Subscription.AddonIDs)
	assert.True(t, resp.Subscription.EndDate.Equal(f.clock.Now().AddDate(1, 0, 0)))
	require.Len(t, resp.GrantedAddons, 1)
	assert.Equal(t, "Featured listing", resp.GrantedAddons[0].Name)

	// 2. Платеж связан с подпиской
	p := f.payment(t, order.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	require.NotNil(t, p.SubscriptionID)
	assert.Equal(t, resp.Subscription.ID, *p.SubscriptionID)
	require.NotNil(t, p.GatewayPaymentID)
	assert.Equal(t, "pay_"+order.OrderID, *p.GatewayPaymentID)
	require.NotNil(t, p.PaidAt)

	// 3. История и счетчик подписчиков
	events, err := f.store.Subscriptions().Events(f.ctx, resp.Subscription.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.PaymentEventSubscription, events[0].Kind)
	assert.Equal(t, p.ID, events[0].PaymentID)
	assert.Equal(t, "pay_"+order.OrderID, events[0].TransactionID)

	plan, err := f.store.Plans().FindByID(f.ctx, f.standard.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, plan.SubscriberCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubscriptionsActive.WithLabelValues("Standard")))
}

func TestVerifySubscriptionPayment_MonthlyEndDateIsCalendarMonth(t *testing.T) {
	f := newFixture(t)
	resp := f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	assert.True(t, resp.Subscription.EndDate.Equal(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)))
}

func TestVerifySubscriptionPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	req := f.signed(order.OrderID)

	first, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, req)
	require.NoError(t, err)
	second, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, req)
	require.NoError(t, err)

	assert.False(t, first.AlreadyProcessed)
	assert.True(t, second.AlreadyProcessed)
	require.NotNil(t, second.Subscription)
	assert.Equal(t, first.Subscription.ID, second.Subscription.ID)

	plan, err := f.store.Plans().FindByID(f.ctx, f.standard.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, plan.SubscriberCount, "повтор не должен выдавать права второй раз")

	events, err := f.store.Subscriptions().Events(f.ctx, first.Subscription.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	f.svc.Wait()
	assert.Equal(t, 1, f.mail.Count(), "чек отправляется один раз")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Verifications.WithLabelValues(string(models.PaymentTypeSubscription), "already_processed")))
}

func TestVerifySubscriptionPayment_ConcurrentSameOrder(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	req := f.signed(order.OrderID)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*dto.VerifyPaymentResponse, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Subscription)
		assert.Equal(t, results[0].Subscription.ID, results[i].Subscription.ID)
	}

	plan, err := f.store.Plans().FindByID(f.ctx, f.standard.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, plan.SubscriberCount)
}

func TestVerifySubscriptionPayment_ConcurrentOrdersLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	a := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	b := f.orderSubscription(t, f.user.ID, f.premium, models.BillingCycleMonthly)

	var wg sync.WaitGroup
	for _, orderID := range []string{a.OrderID, b.OrderID} {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(orderID))
			assert.NoError(t, err)
		}(orderID)
	}
	wg.Wait()

	active := 0
	for _, orderID := range []string{a.OrderID, b.OrderID} {
		p := f.payment(t, orderID)
		require.NotNil(t, p.SubscriptionID)
		sub := f.subscription(t, *p.SubscriptionID)
		if sub.Status == models.SubscriptionStatusActive {
			active++
		} else {
			assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
			assert.Equal(t, models.CancelReasonSuperseded, sub.CancelReason)
		}
	}
	assert.Equal(t, 1, active)
}

func TestVerifyPayment_SignatureMismatchLeavesPending(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)

	req := f.signed(order.OrderID)
	tampered := []byte(req.Signature)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	req.Signature = string(tampered)

	_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, req)

	assert.ErrorIs(t, err, apperrors.ErrSignatureMismatch)
	appErr, _ := apperrors.AsAppError(err)
	assert.Nil(t, appErr.Details, "ожидаемая подпись не раскрывается")
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, order.OrderID).Status)
}

func TestVerifyPayment_SignatureForAnotherPayment(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)

	req := f.signed(order.OrderID)
	req.PaymentID = "pay_other"

	_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, req)
	assert.ErrorIs(t, err, apperrors.ErrSignatureMismatch)
}

func TestVerifyPayment_Rejections(t *testing.T) {
	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed("order_missing"))
		assertAppError(t, err, apperrors.CodeNotFound, http.StatusNotFound)
	})

	t.Run("someone else's order", func(t *testing.T) {
		f := newFixture(t)
		order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
		other := f.createUser(t, "other@example.com")

		_, err := f.svc.VerifySubscriptionPayment(f.ctx, other.ID, f.signed(order.OrderID))
		assertAppError(t, err, apperrors.CodeNotFound, http.StatusNotFound)
		assert.Equal(t, models.PaymentStatusPending, f.payment(t, order.OrderID).Status)
	})

	t.Run("addon payment through subscription endpoint", func(t *testing.T) {
		f := newFixture(t)
		f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly)
		order := f.orderAddons(t, f.user.ID, f.support)

		_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
		assertAppError(t, err, apperrors.CodeValidationFailed, http.StatusBadRequest)
		assert.Equal(t, models.PaymentStatusPending, f.payment(t, order.OrderID).Status)
	})

	t.Run("subscription payment through addon endpoint", func(t *testing.T) {
		f := newFixture(t)
		order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)

		_, err := f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
		assertAppError(t, err, apperrors.CodeValidationFailed, http.StatusBadRequest)
	})

	t.Run("gateway not configured", func(t *testing.T) {
		f := newFixture(t)
		order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
		f.gw.Unconfigured = true

		_, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
		assert.ErrorIs(t, err, apperrors.ErrGatewayNotConfigured)
	})
}

func TestVerifyPayment_LateButUnsweptIsHonored(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	f.clock.Advance(20 * time.Minute)

	resp, err := f.svc.VerifySubscriptionPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, resp.Status)
}

// ============================================
// Addon merge
// ============================================

func TestVerifyAddonPayment_MergesOnlyNewAddons(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly, f.featured).Subscription

	// Оба заказа созданы до оплаты: второй включает уже купленный B
	first := f.orderAddons(t, f.user.ID, f.photos)
	second := f.orderAddons(t, f.user.ID, f.photos, f.support)
	assertMoney(t, "498", second.Amount)

	_, err := f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(first.OrderID))
	require.NoError(t, err)

	resp, err := f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(second.OrderID))
	require.NoError(t, err)

	// {A,B} + {B,C} = {A,B,C}
	require.NotNil(t, resp.Subscription)
	assert.Equal(t, sub.ID, resp.Subscription.ID)
	assert.ElementsMatch(t, []string{f.featured.ID, f.photos.ID, f.support.ID}, resp.Subscription.AddonIDs)
	require.Len(t, resp.GrantedAddons, 1)
	assert.Equal(t, f.support.ID, resp.GrantedAddons[0].AddonID)

	// 999 + 499 (A) + 199 (B) + 299 (C)
	stored := f.subscription(t, sub.ID)
	assertMoney(t, "1996", stored.Amount)
	assert.Len(t, stored.AddonSnapshots, 3)

	events, err := f.store.Subscriptions().Events(f.ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, models.PaymentEventAddon, last.Kind)
	assert.Equal(t, []string{f.support.ID}, []string(last.AddonIDs))
	assertMoney(t, "299", last.Amount)
	assert.Equal(t, "pay_"+second.OrderID, last.TransactionID)

	// Часть денег взята за уже купленный аддон
	p := f.payment(t, second.OrderID)
	assert.Equal(t, []string{f.support.ID}, []string(p.GrantedAddonIDs))
	assert.True(t, p.Metadata.Data().RefundCandidate)
	require.NotNil(t, p.SubscriptionID)
	assert.Equal(t, sub.ID, *p.SubscriptionID)

	// A при покупке подписки, B и C отдельными заказами
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.AddonsGranted))
}

func TestVerifyAddonPayment_NoNewAddons(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly).Subscription

	first := f.orderAddons(t, f.user.ID, f.support)
	second := f.orderAddons(t, f.user.ID, f.support)

	_, err := f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(first.OrderID))
	require.NoError(t, err)

	_, err = f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(second.OrderID))
	assert.ErrorIs(t, err, apperrors.ErrNoNewAddons)
	assertAppError(t, err, apperrors.CodeNoNewAddons, http.StatusConflict)

	// Деньги списаны: платеж остается paid и помечается на возврат
	p := f.payment(t, second.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.Empty(t, p.GrantedAddonIDs)
	meta := p.Metadata.Data()
	assert.True(t, meta.RefundCandidate)
	assert.NotEmpty(t, meta.RefundCandidateReason)

	stored := f.subscription(t, sub.ID)
	assert.Equal(t, []string{f.support.ID}, []string(stored.AddonIDs))
	assertMoney(t, "1298", stored.Amount)

	// Повтор дает тот же ответ и ничего не меняет
	_, err = f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(second.OrderID))
	assert.ErrorIs(t, err, apperrors.ErrNoNewAddons)

	events, err := f.store.Subscriptions().Events(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestVerifyAddonPayment_SubscriptionGoneBeforePayment(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	order := f.orderAddons(t, f.user.ID, f.support)

	f.clock.Advance(32 * 24 * time.Hour)

	_, err := f.svc.VerifyAddonPayment(f.ctx, f.user.ID, f.signed(order.OrderID))
	assert.ErrorIs(t, err, apperrors.ErrNoActiveSubscription)

	p := f.payment(t, order.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.True(t, p.Metadata.Data().RefundCandidate)
	assert.Nil(t, p.SubscriptionID)
}

func TestVerifyPayment_SendsReceipt(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, f.user.ID, f.standard, models.BillingCycleYearly, f.featured)
	f.svc.Wait()

	require.Equal(t, 1, f.mail.Count())
	sent := f.mail.Sent[0]
	assert.Equal(t, []string{"buyer@example.com"}, sent.To)
	assert.Contains(t, sent.HTMLBody, "10489.00")
	assert.Contains(t, sent.HTMLBody, "Standard")
	assert.Contains(t, sent.HTMLBody, "Featured listing")
}

func TestVerifyPayment_ReceiptFailureDoesNotFailPayment(t *testing.T) {
	f := newFixture(t)
	f.mail.Err = assert.AnError

	resp := f.subscribe(t, f.user.ID, f.standard, models.BillingCycleMonthly)
	f.svc.Wait()

	assert.Equal(t, models.PaymentStatusPaid, resp.Status)
	assert.Equal(t, 0, f.mail.Count())
}

func TestVerifySubscriptionPayment_FinishesAfterClientCancels(t *testing.T) {
	f := newFixture(t)
	order := f.orderSubscription(t, f.user.ID, f.standard, models.BillingCycleMonthly)

	// Клиент отключился, но деньги уже списаны: подписку выдаем
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	resp, err := f.svc.VerifySubscriptionPayment(ctx, f.user.ID, f.signed(order.OrderID))
	require.NoError(t, err)
	require.NotNil(t, resp.Subscription)
	assert.Equal(t, models.PaymentStatusPaid, f.payment(t, order.OrderID).Status)
}
