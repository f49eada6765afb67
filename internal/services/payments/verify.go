package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/email"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"

	"github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

// finalizeInput - пустой UserID и Type отключают проверки владельца и типа (сверка админом)
type finalizeInput struct {
	UserID    string
	Type      models.PaymentType
	OrderID   string
	PaymentID string
	Signature string
}

// outcome - результат финализации платежа
type outcome struct {
	payment          *models.Payment
	subscription     *models.Subscription
	granted          []models.AddonSnapshot
	alreadyProcessed bool
	// rejection - деньги списаны, права не выданы; отдаем клиенту после коммита
	rejection error
}

// ============================================
// VERIFICATION
// ============================================

func (s *service) VerifySubscriptionPayment(ctx context.Context, userID string, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	return s.verify(ctx, userID, models.PaymentTypeSubscription, req)
}

func (s *service) VerifyAddonPayment(ctx context.Context, userID string, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	return s.verify(ctx, userID, models.PaymentTypeAddon, req)
}

func (s *service) verify(ctx context.Context, userID string, typ models.PaymentType, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	if !s.gateway.Configured() {
		return nil, apperrors.ErrGatewayNotConfigured
	}
	ctx = logger.WithOrderID(ctx, req.OrderID)

	if !s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		s.metrics.Verifications.WithLabelValues(string(typ), "signature_mismatch").Inc()
		logger.CtxWarn(ctx, "payment signature mismatch", "payment_id", req.PaymentID)
		return nil, apperrors.ErrSignatureMismatch
	}

	out, err := s.finalizeOnce(ctx, finalizeInput{
		UserID:    userID,
		Type:      typ,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		s.metrics.Verifications.WithLabelValues(string(typ), verificationLabel(err)).Inc()
		return nil, err
	}
	if out.rejection != nil {
		s.metrics.Verifications.WithLabelValues(string(typ), verificationLabel(out.rejection)).Inc()
		return nil, out.rejection
	}

	label := "ok"
	if out.alreadyProcessed {
		label = "already_processed"
	}
	s.metrics.Verifications.WithLabelValues(string(typ), label).Inc()
	return out.response(), nil
}

// finalizeOnce - параллельные запросы на один и тот же заказ выполняются один раз.
// Корректность обеспечивают блокировка строки и условный UPDATE, это лишь экономия.
func (s *service) finalizeOnce(ctx context.Context, in finalizeInput) (*outcome, error) {
	key := in.UserID + "|" + in.OrderID + "|" + in.PaymentID
	// Общий результат не должен зависеть от отмены запроса первого вызвавшего
	shareCtx := context.WithoutCancel(ctx)
	v, err, shared := s.verifyGroup.Do(key, func() (interface{}, error) {
		out, err := s.finalize(shareCtx, in)
		if err != nil {
			return nil, err
		}
		if !out.alreadyProcessed && out.rejection == nil {
			s.afterGrant(shareCtx, out)
		}
		return out, nil
	})
	if shared {
		logger.CtxDebug(ctx, "verification coalesced with a concurrent request")
	}
	if err != nil {
		return nil, err
	}
	return v.(*outcome), nil
}

// finalize - перевод pending -> paid и выдача прав одной транзакцией
func (s *service) finalize(ctx context.Context, in finalizeInput) (*outcome, error) {
	now := s.clock()
	var out *outcome

	err := s.store.Transaction(ctx, func(tx repositories.Store) error {
		payment, err := tx.Payments().LockByOrderID(ctx, in.OrderID)
		if err != nil {
			if errors.Is(err, repositories.ErrPaymentNotFound) {
				return apperrors.ErrNotFound("payment", "Payment not found")
			}
			return storageError(err)
		}
		// Чужой заказ не отличаем от несуществующего
		if in.UserID != "" && payment.UserID != in.UserID {
			return apperrors.ErrNotFound("payment", "Payment not found")
		}
		if in.Type != "" && payment.Type != in.Type {
			return apperrors.ErrValidation("payment", "Payment type does not match this verification endpoint").
				WithDetails(map[string]interface{}{"payment_type": payment.Type})
		}

		switch payment.Status {
		case models.PaymentStatusPaid:
			if payment.GatewayPaymentID != nil && *payment.GatewayPaymentID != in.PaymentID {
				logger.CtxWarn(ctx, "order already paid by another gateway payment",
					"recorded_payment_id", *payment.GatewayPaymentID, "payment_id", in.PaymentID)
			}
			out, err = s.existingOutcome(ctx, tx, payment)
			return err
		case models.PaymentStatusCancelled, models.PaymentStatusFailed:
			return apperrors.ErrPaymentAlreadyFinalized.WithDetails(map[string]interface{}{
				"status":        payment.Status,
				"cancel_reason": payment.CancelReason,
			})
		}

		ok, err := tx.Payments().MarkPaid(ctx, payment.ID, in.PaymentID, in.Signature, now)
		if err != nil {
			return storageError(err)
		}
		if !ok {
			return apperrors.ErrPaymentAlreadyFinalized
		}
		gatewayPaymentID := in.PaymentID
		payment.Status = models.PaymentStatusPaid
		payment.GatewayPaymentID = &gatewayPaymentID
		payment.PaidAt = &now

		switch payment.Type {
		case models.PaymentTypeSubscription:
			out, err = s.activateSubscription(ctx, tx, payment, now)
		case models.PaymentTypeAddon:
			out, err = s.mergeAddons(ctx, tx, payment, now)
		default:
			err = apperrors.ErrValidation("payment", fmt.Sprintf("Unsupported payment type %q", payment.Type))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// existingOutcome - повторная верификация оплаченного заказа возвращает то, что уже выдано
func (s *service) existingOutcome(ctx context.Context, tx repositories.Store, payment *models.Payment) (*outcome, error) {
	out := &outcome{payment: payment, alreadyProcessed: true}

	if payment.SubscriptionID != nil {
		sub, err := tx.Subscriptions().FindByID(ctx, *payment.SubscriptionID)
		if err != nil && !errors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, storageError(err)
		}
		out.subscription = sub
	}

	meta := payment.Metadata.Data()
	out.granted = lo.Filter(meta.AddonSnapshots, func(a models.AddonSnapshot, _ int) bool {
		return lo.Contains(payment.GrantedAddonIDs, a.AddonID)
	})

	if payment.Type == models.PaymentTypeAddon && meta.RefundCandidate && len(out.granted) == 0 {
		if payment.SubscriptionID == nil {
			out.rejection = apperrors.ErrNoActiveSubscription
		} else {
			out.rejection = apperrors.ErrNoNewAddons
		}
	}
	return out, nil
}

// ============================================
// SUBSCRIPTION ACTIVATION
// ============================================

func (s *service) activateSubscription(ctx context.Context, tx repositories.Store, payment *models.Payment, now time.Time) (*outcome, error) {
	if err := tx.LockUser(ctx, payment.UserID); err != nil {
		return nil, storageError(err)
	}

	meta := payment.Metadata.Data()
	planSnapshot := meta.PlanSnapshot
	if planSnapshot == nil {
		// старые заказы без снимка: берем тариф из каталога
		plan, err := tx.Plans().FindByID(ctx, meta.PlanID)
		if err != nil {
			return nil, storageError(err)
		}
		snap := plan.Snapshot(meta.BillingCycle)
		planSnapshot = &snap
	}
	cycle := meta.BillingCycle
	if !cycle.IsValid() {
		cycle = models.BillingCycleMonthly
	}
	addons := lo.UniqBy(meta.AddonSnapshots, func(a models.AddonSnapshot) string { return a.AddonID })

	superseded, err := tx.Subscriptions().CancelActiveForUser(ctx, payment.UserID, models.CancelReasonSuperseded, now)
	if err != nil {
		return nil, storageError(err)
	}
	if superseded > 0 {
		logger.CtxInfo(ctx, "previous subscriptions superseded", "count", superseded)
	}

	sub := &models.Subscription{
		UserID:         payment.UserID,
		PlanID:         planSnapshot.PlanID,
		PlanSnapshot:   datatypes.NewJSONType(*planSnapshot),
		AddonSnapshots: datatypes.JSONSlice[models.AddonSnapshot](addons),
		AddonIDs:       pq.StringArray(addonIDs(addons)),
		Status:         models.SubscriptionStatusActive,
		BillingCycle:   cycle,
		StartDate:      now,
		EndDate:        periodEnd(now, cycle),
		Amount:         payment.Amount,
	}
	if err := tx.Subscriptions().Create(ctx, sub); err != nil {
		return nil, storageError(err)
	}

	if err := tx.Subscriptions().AppendEvent(ctx, &models.SubscriptionPaymentEvent{
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
		TransactionID:  *payment.GatewayPaymentID,
		Kind:           models.PaymentEventSubscription,
		Amount:         payment.Amount,
		AddonIDs:       pq.StringArray(addonIDs(addons)),
		CreatedAt:      now,
	}); err != nil {
		return nil, storageError(err)
	}

	subID := sub.ID
	if err := tx.Payments().RecordOutcome(ctx, payment.ID, repositories.PaymentOutcome{
		SubscriptionID:  &subID,
		GrantedAddonIDs: addonIDs(addons),
		Metadata:        meta,
	}); err != nil {
		return nil, storageError(err)
	}
	payment.SubscriptionID = &subID
	payment.GrantedAddonIDs = addonIDs(addons)

	if err := tx.Plans().IncrementSubscribers(ctx, planSnapshot.PlanID); err != nil {
		return nil, storageError(err)
	}

	return &outcome{payment: payment, subscription: sub, granted: addons}, nil
}

// periodEnd - календарный месяц/год, а не фиксированное число дней
func periodEnd(start time.Time, cycle models.BillingCycle) time.Time {
	if cycle == models.BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// ============================================
// ADDON MERGE
// ============================================

func (s *service) mergeAddons(ctx context.Context, tx repositories.Store, payment *models.Payment, now time.Time) (*outcome, error) {
	meta := payment.Metadata.Data()
	out := &outcome{payment: payment}

	current, err := tx.Subscriptions().FindActiveByUser(ctx, payment.UserID, now)
	if err != nil && !errors.Is(err, repositories.ErrSubscriptionNotFound) {
		return nil, storageError(err)
	}
	var sub *models.Subscription
	if current != nil {
		if sub, err = tx.Subscriptions().LockByID(ctx, current.ID); err != nil {
			return nil, storageError(err)
		}
	}
	if sub == nil || !sub.IsCurrent(now) {
		// подписка закончилась между заказом и оплатой
		meta.RefundCandidate = true
		meta.RefundCandidateReason = "no active subscription at verification"
		if err := tx.Payments().RecordOutcome(ctx, payment.ID, repositories.PaymentOutcome{Metadata: meta}); err != nil {
			return nil, storageError(err)
		}
		logger.CtxWarn(ctx, "addon payment captured without active subscription, flagged for refund")
		out.rejection = apperrors.ErrNoActiveSubscription
		return out, nil
	}
	out.subscription = sub

	requested, err := s.requestedAddons(ctx, tx, meta)
	if err != nil {
		return nil, err
	}
	fresh := lo.Filter(requested, func(a models.AddonSnapshot, _ int) bool {
		return !sub.HasAddon(a.AddonID)
	})

	subID := sub.ID
	if len(fresh) == 0 {
		meta.RefundCandidate = true
		meta.RefundCandidateReason = "all requested addons already active"
		if err := tx.Payments().RecordOutcome(ctx, payment.ID, repositories.PaymentOutcome{
			SubscriptionID: &subID,
			Metadata:       meta,
		}); err != nil {
			return nil, storageError(err)
		}
		payment.SubscriptionID = &subID
		logger.CtxWarn(ctx, "addon payment granted nothing new, flagged for refund", "subscription_id", sub.ID)
		out.rejection = apperrors.ErrNoNewAddons
		return out, nil
	}

	freshIDs := addonIDs(fresh)
	delta := sumAddons(fresh)
	sub.AddonIDs = append(sub.AddonIDs, freshIDs...)
	sub.AddonSnapshots = append(sub.AddonSnapshots, fresh...)
	sub.Amount = sub.Amount.Add(delta)
	if err := tx.Subscriptions().SaveAddons(ctx, sub); err != nil {
		return nil, storageError(err)
	}

	if err := tx.Subscriptions().AppendEvent(ctx, &models.SubscriptionPaymentEvent{
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
		TransactionID:  *payment.GatewayPaymentID,
		Kind:           models.PaymentEventAddon,
		Amount:         delta,
		AddonIDs:       pq.StringArray(freshIDs),
		CreatedAt:      now,
	}); err != nil {
		return nil, storageError(err)
	}

	if len(fresh) < len(requested) {
		meta.RefundCandidate = true
		meta.RefundCandidateReason = fmt.Sprintf("%d of %d requested addons were already active",
			len(requested)-len(fresh), len(requested))
	}
	if err := tx.Payments().RecordOutcome(ctx, payment.ID, repositories.PaymentOutcome{
		SubscriptionID:  &subID,
		GrantedAddonIDs: freshIDs,
		Metadata:        meta,
	}); err != nil {
		return nil, storageError(err)
	}
	payment.SubscriptionID = &subID
	payment.GrantedAddonIDs = freshIDs

	out.granted = fresh
	return out, nil
}

// requestedAddons - снимки из заказа; для заказов без снимков - из каталога
func (s *service) requestedAddons(ctx context.Context, tx repositories.Store, meta models.PaymentMetadata) ([]models.AddonSnapshot, error) {
	if len(meta.AddonSnapshots) > 0 {
		return lo.UniqBy(meta.AddonSnapshots, func(a models.AddonSnapshot) string { return a.AddonID }), nil
	}
	if len(meta.AddonIDs) == 0 {
		return nil, nil
	}
	found, err := tx.Addons().FindByIDs(ctx, lo.Uniq(meta.AddonIDs))
	if err != nil {
		return nil, storageError(err)
	}
	return snapshotAddons(found), nil
}

// ============================================
// AFTER COMMIT
// ============================================

// afterGrant - метрики и чек; вызывается только после коммита
func (s *service) afterGrant(ctx context.Context, out *outcome) {
	if out.payment.Type == models.PaymentTypeSubscription && out.subscription != nil {
		s.metrics.SubscriptionsActive.WithLabelValues(out.subscription.PlanSnapshot.Data().Name).Inc()
	}
	s.metrics.AddonsGranted.Add(float64(len(out.granted)))

	logger.CtxInfo(ctx, "✅ payment finalized",
		"type", out.payment.Type,
		"amount", out.payment.Amount.StringFixed(2),
		"granted_addons", len(out.granted))

	if s.receipts == nil {
		return
	}
	receipt := email.Receipt{
		OrderID:   out.payment.GatewayOrderID,
		Amount:    out.payment.Amount,
		Currency:  out.payment.Currency,
		Addons:    lo.Map(out.granted, func(a models.AddonSnapshot, _ int) string { return a.Name }),
		PaymentID: lo.FromPtr(out.payment.GatewayPaymentID),
	}
	if out.subscription != nil && out.payment.Type == models.PaymentTypeSubscription {
		plan := out.subscription.PlanSnapshot.Data()
		receipt.PlanName = plan.Name
		receipt.BillingCycle = string(out.subscription.BillingCycle)
		receipt.ValidUntil = out.subscription.EndDate
	}
	userID := out.payment.UserID

	// Чек не должен зависеть от отмены запроса
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		user, err := s.store.Users().FindByID(bg, userID)
		if err != nil {
			logger.CtxWithError(bg, "receipt skipped: user lookup failed", err)
			return
		}
		receipt.To = user.Email
		receipt.Name = user.Name
		if err := s.receipts.SendReceipt(bg, receipt); err != nil {
			logger.CtxWithError(bg, "failed to send payment receipt", err)
		}
	}()
}

func (o *outcome) response() *dto.VerifyPaymentResponse {
	return &dto.VerifyPaymentResponse{
		OrderID:          o.payment.GatewayOrderID,
		Status:           o.payment.Status,
		AlreadyProcessed: o.alreadyProcessed,
		Subscription:     dto.NewSubscriptionResponse(o.subscription),
		GrantedAddons:    dto.NewAddonSnapshotDTOs(o.granted),
	}
}

func verificationLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNoNewAddons):
		return "no_new_addons"
	case errors.Is(err, apperrors.ErrPaymentAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, apperrors.ErrNoActiveSubscription):
		return "no_subscription"
	}
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.CodeNotFound {
		return "not_found"
	}
	return "error"
}
