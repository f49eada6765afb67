// Package gateway - адаптер внешнего платежного шлюза. Шлюзу не доверяем:
// он может не ответить, ответить ошибкой или вернуть чужие данные.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured - ключи не заданы; заказы не создаются вообще
	ErrNotConfigured = errors.New("payment gateway is not configured")
	// ErrTimeout - результат операции неизвестен, это НЕ отказ
	ErrTimeout = errors.New("payment gateway timeout")
	// ErrUnavailable - circuit breaker разомкнут
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Статусы платежа на стороне шлюза
const (
	StatusCreated    = "created"
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

type Gateway interface {
	Configured() bool
	// KeyID - публичный ключ для checkout на клиенте
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
	// Refund - amount == nil означает полный возврат
	Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, notes map[string]string) (*RefundInfo, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Order struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Status   string
}

type PaymentInfo struct {
	ID       string
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Status   string
	Method   string
}

// Settled - деньги получены (или заблокированы под capture)
func (p *PaymentInfo) Settled() bool {
	return p.Status == StatusCaptured || p.Status == StatusAuthorized
}

type RefundInfo struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Status    string
}

// APIError - шлюз ответил ошибкой
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// ClientError - 4xx: запрос некорректен, повтор не поможет
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ToMinor - перевод в минимальные единицы (пайсы, копейки) только здесь, на границе шлюза
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
