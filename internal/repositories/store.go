package repositories

import (
	"context"
	"time"

	"propmarket_backend/internal/models"

	"github.com/shopspring/decimal"
)

// Store - единая точка доступа к хранилищу. Все изменения состояния платежа
// и подписки идут через Transaction; репозитории, полученные из tx, работают
// внутри той же транзакции.
type Store interface {
	Plans() PlanRepository
	Addons() AddonRepository
	Payments() PaymentRepository
	Subscriptions() SubscriptionRepository
	Users() UserRepository

	// LockUser - сериализует создание подписок одного пользователя до конца транзакции
	LockUser(ctx context.Context, userID string) error

	Transaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	FindActive(ctx context.Context) ([]models.Plan, error)
	IncrementSubscribers(ctx context.Context, id string) error
	// ChangePrice меняет цену и пишет строку истории; вызывать внутри транзакции
	ChangePrice(ctx context.Context, id string, price decimal.Decimal, changedBy string, at time.Time) (*models.PlanPriceHistory, error)
	PriceHistory(ctx context.Context, id string) ([]models.PlanPriceHistory, error)
}

type AddonRepository interface {
	Create(ctx context.Context, addon *models.AddonService) error
	FindByIDs(ctx context.Context, ids []string) ([]models.AddonService, error)
	FindActive(ctx context.Context) ([]models.AddonService, error)
}

// PaymentRepository - все переходы статуса условные (WHERE status = 'pending'),
// bool в ответе говорит, применилось ли изменение.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	// LockByOrderID - SELECT ... FOR UPDATE
	LockByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	LockByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	MarkPaid(ctx context.Context, id, gatewayPaymentID, signature string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, gatewayPaymentID, reason string) (bool, error)
	CancelPending(ctx context.Context, id, reason string) (bool, error)
	RecordOutcome(ctx context.Context, id string, outcome PaymentOutcome) error
	RecordRefund(ctx context.Context, id string, refund RefundRecord) (bool, error)
	// FindExpiredPending - порядок (expires_at, id); after - последняя строка предыдущей пачки
	FindExpiredPending(ctx context.Context, now time.Time, after *ExpiredCursor, limit int) ([]models.Payment, error)
	Stats(ctx context.Context) (*PaymentStats, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	// FindActiveByUser - active и не истекшая на момент now
	FindActiveByUser(ctx context.Context, userID string, now time.Time) (*models.Subscription, error)
	LockByID(ctx context.Context, id string) (*models.Subscription, error)
	SaveAddons(ctx context.Context, sub *models.Subscription) error
	CancelActiveForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	Cancel(ctx context.Context, id, reason string, at time.Time) (bool, error)
	ExpireEnded(ctx context.Context, now time.Time) (int64, error)
	AppendEvent(ctx context.Context, event *models.SubscriptionPaymentEvent) error
	Events(ctx context.Context, subscriptionID string) ([]models.SubscriptionPaymentEvent, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// PaymentOutcome - что было выдано по оплаченному платежу (для идемпотентного повтора)
// ExpiredCursor - keyset-позиция в выборке просроченных платежей
type ExpiredCursor struct {
	ExpiresAt time.Time
	ID        string
}

type PaymentOutcome struct {
	SubscriptionID  *string
	GrantedAddonIDs []string
	Metadata        models.PaymentMetadata
}

// RefundRecord - условие PreviousRefunded защищает от двух параллельных возвратов
type RefundRecord struct {
	RefundID         string
	Amount           decimal.Decimal
	PreviousRefunded decimal.Decimal
	Status           string
	Reason           string
	At               time.Time
}

type PaymentStats struct {
	ByStatus      map[models.PaymentStatus]int64 `json:"by_status"`
	ByType        map[models.PaymentType]int64   `json:"by_type"`
	PaidRevenue   decimal.Decimal                `json:"paid_revenue"`
	RefundedTotal decimal.Decimal                `json:"refunded_total"`
}
