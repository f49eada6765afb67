// Package gatewaytest - управляемый шлюз для тестов сервисов и хэндлеров
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"propmarket_backend/internal/gateway"

	"github.com/shopspring/decimal"
)

type RefundCall struct {
	PaymentID string
	Amount    *decimal.Decimal
	Notes     map[string]string
}

type Fake struct {
	mu sync.Mutex

	Secret       string
	Key          string
	Unconfigured bool

	CreateErr error
	FetchErr  error
	RefundErr error

	orders   []gateway.OrderRequest
	payments map[string]gateway.PaymentInfo
	refunds  []RefundCall
	seq      int
}

var _ gateway.Gateway = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Secret:   "test_key_secret",
		Key:      "rzp_test_key",
		payments: map[string]gateway.PaymentInfo{},
	}
}

func (f *Fake) Configured() bool {
	return !f.Unconfigured
}

func (f *Fake) KeyID() string {
	return f.Key
}

func (f *Fake) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	if !f.Configured() {
		return nil, gateway.ErrNotConfigured
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	f.orders = append(f.orders, req)
	return &gateway.Order{
		ID:       fmt.Sprintf("order_%04d", f.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   gateway.StatusCreated,
	}, nil
}

func (f *Fake) FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	if !f.Configured() {
		return nil, gateway.ErrNotConfigured
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, &gateway.APIError{StatusCode: 400, Code: "BAD_REQUEST_ERROR", Description: "The id provided does not exist"}
	}
	return &p, nil
}

func (f *Fake) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, notes map[string]string) (*gateway.RefundInfo, error) {
	if !f.Configured() {
		return nil, gateway.ErrNotConfigured
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.refunds = append(f.refunds, RefundCall{PaymentID: paymentID, Amount: amount, Notes: notes})
	info := &gateway.RefundInfo{
		ID:        fmt.Sprintf("rfnd_%04d", len(f.refunds)),
		PaymentID: paymentID,
		Status:    "processed",
	}
	if amount != nil {
		info.Amount = *amount
	}
	return info, nil
}

func (f *Fake) VerifySignature(orderID, paymentID, signature string) bool {
	return gateway.VerifySignature(f.Secret, orderID, paymentID, signature)
}

// Sign - подпись, которую прислал бы клиент после оплаты
func (f *Fake) Sign(orderID, paymentID string) string {
	return gateway.Sign(f.Secret, orderID, paymentID)
}

func (f *Fake) SetPayment(info gateway.PaymentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[info.ID] = info
}

func (f *Fake) Orders() []gateway.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.OrderRequest(nil), f.orders...)
}

func (f *Fake) Refunds() []RefundCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RefundCall(nil), f.refunds...)
}
