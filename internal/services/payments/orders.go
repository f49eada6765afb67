package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/gateway"
	"propmarket_backend/internal/logger"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/repositories"
	"propmarket_backend/pkg/apperrors"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ============================================
// ORDER CREATION
// ============================================

func (s *service) CreateSubscriptionOrder(ctx context.Context, userID string, req *dto.CreateSubscriptionOrderRequest) (*dto.OrderResponse, error) {
	if !s.gateway.Configured() {
		return nil, apperrors.ErrGatewayNotConfigured
	}

	cycle := models.BillingCycle(req.BillingCycle)
	if !cycle.IsValid() {
		return nil, apperrors.ErrValidation("payment", "Unsupported billing cycle")
	}

	plan, err := s.store.Plans().FindByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlanNotFound) {
			return nil, apperrors.ErrNotFound("plan", "Plan not found")
		}
		return nil, storageError(err)
	}
	if !plan.IsActive {
		return nil, apperrors.ErrNotFound("plan", "Plan not found")
	}

	now := s.clock()
	if _, err := s.store.Subscriptions().FindActiveByUser(ctx, userID, now); err == nil {
		return nil, apperrors.ErrActiveSubscriptionExists
	} else if !errors.Is(err, repositories.ErrSubscriptionNotFound) {
		return nil, storageError(err)
	}

	addons, err := s.resolveAddons(ctx, req.AddonIDs)
	if err != nil {
		return nil, err
	}

	planSnapshot := plan.Snapshot(cycle)
	addonSnapshots := snapshotAddons(addons)
	total := plan.PriceFor(cycle, s.settings.YearlyBillableMonths).Add(sumAddons(addonSnapshots))
	s.checkClientTotal(ctx, req.ClientTotal, total)

	meta := models.PaymentMetadata{
		PlanID:         plan.ID,
		AddonIDs:       addonIDs(addonSnapshots),
		BillingCycle:   cycle,
		ClientTotal:    req.ClientTotal,
		ComputedTotal:  total,
		PlanSnapshot:   &planSnapshot,
		AddonSnapshots: addonSnapshots,
	}
	notes := map[string]string{
		"user_id":       userID,
		"plan_id":       plan.ID,
		"billing_cycle": string(cycle),
	}
	return s.placeOrder(ctx, userID, models.PaymentTypeSubscription, total, meta, notes)
}

func (s *service) CreateAddonOrder(ctx context.Context, userID string, req *dto.CreateAddonOrderRequest) (*dto.OrderResponse, error) {
	if !s.gateway.Configured() {
		return nil, apperrors.ErrGatewayNotConfigured
	}

	sub, err := s.store.Subscriptions().FindActiveByUser(ctx, userID, s.clock())
	if err != nil {
		if errors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, apperrors.ErrNoActiveSubscription
		}
		return nil, storageError(err)
	}

	addons, err := s.resolveAddons(ctx, req.AddonIDs)
	if err != nil {
		return nil, err
	}

	// Цена только за то, чего еще нет в подписке
	fresh := lo.Filter(addons, func(a models.AddonService, _ int) bool {
		return !sub.HasAddon(a.ID)
	})
	if len(fresh) == 0 {
		return nil, apperrors.ErrNoNewAddons
	}

	addonSnapshots := snapshotAddons(fresh)
	total := sumAddons(addonSnapshots)
	s.checkClientTotal(ctx, req.ClientTotal, total)

	meta := models.PaymentMetadata{
		AddonIDs:       addonIDs(addonSnapshots),
		ClientTotal:    req.ClientTotal,
		ComputedTotal:  total,
		AddonSnapshots: addonSnapshots,
	}
	notes := map[string]string{
		"user_id":         userID,
		"subscription_id": sub.ID,
		"addon_ids":       strings.Join(meta.AddonIDs, ","),
	}
	return s.placeOrder(ctx, userID, models.PaymentTypeAddon, total, meta, notes)
}

// placeOrder - сначала заказ в шлюзе, потом строка в журнале.
// Без ответа шлюза ничего не пишем.
func (s *service) placeOrder(ctx context.Context, userID string, typ models.PaymentType, total decimal.Decimal, meta models.PaymentMetadata, notes map[string]string) (*dto.OrderResponse, error) {
	now := s.clock()
	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   total,
		Currency: s.settings.Currency,
		Receipt:  receiptFor(typ, userID, now.UnixMilli()),
		Notes:    notes,
	})
	if err != nil {
		s.metrics.OrdersCreated.WithLabelValues(string(typ), "gateway_error").Inc()
		logger.CtxWithError(ctx, "gateway order creation failed", err, "type", typ, "amount", total.StringFixed(2))
		return nil, gatewayError(err)
	}

	payment := &models.Payment{
		GatewayOrderID: order.ID,
		UserID:         userID,
		Amount:         total,
		Currency:       s.settings.Currency,
		Status:         models.PaymentStatusPending,
		Type:           typ,
		Metadata:       datatypes.NewJSONType(meta),
		ExpiresAt:      now.Add(s.settings.OrderTTL),
	}
	if err := s.store.Payments().Create(ctx, payment); err != nil {
		s.metrics.OrdersCreated.WithLabelValues(string(typ), "storage_error").Inc()
		// Заказ в шлюзе уже есть, а записи о нем нет - оставляем след для ручного разбора
		logger.CtxWithError(ctx, "⚠️ orphaned gateway order: ledger write failed", err,
			"gateway_order_id", order.ID, "type", typ, "amount", total.StringFixed(2))
		return nil, apperrors.InternalError(err)
	}

	s.metrics.OrdersCreated.WithLabelValues(string(typ), "ok").Inc()
	logger.CtxInfo(logger.WithOrderID(ctx, order.ID), "payment order created",
		"type", typ, "amount", total.StringFixed(2), "currency", payment.Currency)

	return &dto.OrderResponse{
		OrderID:   order.ID,
		PaymentID: payment.ID,
		Type:      typ,
		Amount:    total,
		Currency:  payment.Currency,
		KeyID:     s.gateway.KeyID(),
		ExpiresAt: payment.ExpiresAt,
	}, nil
}

// resolveAddons - все id должны существовать и быть активны
func (s *service) resolveAddons(ctx context.Context, ids []string) ([]models.AddonService, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := s.store.Addons().FindByIDs(ctx, ids)
	if err != nil {
		return nil, storageError(err)
	}
	byID := lo.KeyBy(found, func(a models.AddonService) string { return a.ID })

	var invalid []string
	addons := make([]models.AddonService, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok || !a.IsActive {
			invalid = append(invalid, id)
			continue
		}
		addons = append(addons, a)
	}
	if len(invalid) > 0 {
		return nil, apperrors.ErrValidation("addon", "Unknown or inactive addons").
			WithDetails(map[string]interface{}{"addon_ids": invalid})
	}
	return addons, nil
}

// checkClientTotal - сумма клиента только для сверки, списываем всегда посчитанную сервером
func (s *service) checkClientTotal(ctx context.Context, client *decimal.Decimal, server decimal.Decimal) {
	if client == nil {
		return
	}
	if client.Sub(server).Abs().GreaterThan(s.settings.AmountTolerance) {
		logger.CtxWarn(ctx, "client total differs from server total, using server total",
			"client_total", client.StringFixed(2), "server_total", server.StringFixed(2))
	}
}

func snapshotAddons(addons []models.AddonService) []models.AddonSnapshot {
	return lo.Map(addons, func(a models.AddonService, _ int) models.AddonSnapshot {
		return a.Snapshot()
	})
}

func sumAddons(snapshots []models.AddonSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, a := range snapshots {
		total = total.Add(a.Price)
	}
	return total.Round(2)
}

func addonIDs(snapshots []models.AddonSnapshot) []string {
	return lo.Map(snapshots, func(a models.AddonSnapshot, _ int) string { return a.AddonID })
}

// receiptFor - у шлюза лимит 40 символов на receipt
func receiptFor(typ models.PaymentType, userID string, ts int64) string {
	prefix := "sub"
	if typ == models.PaymentTypeAddon {
		prefix = "addon"
	}
	short := strings.ReplaceAll(userID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	receipt := fmt.Sprintf("%s_%s_%d", prefix, short, ts)
	if len(receipt) > 40 {
		receipt = receipt[:40]
	}
	return receipt
}
