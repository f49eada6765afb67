package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *RazorpayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRazorpayClient(Config{
		BaseURL:     srv.URL,
		KeyID:       "rzp_test_key",
		KeySecret:   "rzp_test_secret",
		Timeout:     200 * time.Millisecond,
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	})
}

func TestCreateOrder_SendsMinorUnitsWithBasicAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)
		assert.Equal(t, "/orders", r.URL.Path)

		var body orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(999000), body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "sub_user1", body.Receipt)

		_ = json.NewEncoder(w).Encode(orderResponse{
			ID: "order_abc", Amount: body.Amount, Currency: body.Currency, Receipt: body.Receipt, Status: "created",
		})
	})

	order, err := client.CreateOrder(context.Background(), OrderRequest{
		Amount:   decimal.RequireFromString("9990"),
		Currency: "INR",
		Receipt:  "sub_user1",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("9990")))
}

func TestCreateOrder_NotConfigured(t *testing.T) {
	client := NewRazorpayClient(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, client.Configured())

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: decimal.NewFromInt(1), Currency: "INR"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payments/pay_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(paymentResponse{
			ID: "pay_1", OrderID: "order_1", Amount: 99900, Currency: "INR", Status: StatusCaptured, Method: "upi",
		})
	})

	info, err := client.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", info.OrderID)
	assert.True(t, info.Settled())
	assert.True(t, info.Amount.Equal(decimal.NewFromInt(999)))
}

func TestRefund_PartialAmount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/refund", r.URL.Path)
		var body refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Amount)
		assert.Equal(t, int64(50050), *body.Amount)
		_ = json.NewEncoder(w).Encode(refundResponse{ID: "rfnd_1", PaymentID: "pay_1", Amount: *body.Amount, Status: "processed"})
	})

	amount := decimal.RequireFromString("500.50")
	refund, err := client.Refund(context.Background(), "pay_1", &amount, map[string]string{"reason": "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.ID)
	assert.True(t, refund.Amount.Equal(amount))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	})

	for i := 0; i < 5; i++ {
		_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: decimal.NewFromInt(1), Currency: "INR"})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestServerErrorsOpenBreaker(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := client.FetchPayment(context.Background(), "pay_1")
		require.Error(t, err)
	}

	_, err := client.FetchPayment(context.Background(), "pay_1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTimeoutIsReportedAsUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := client.FetchPayment(context.Background(), "pay_1")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestObserveHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(paymentResponse{ID: "pay_1", OrderID: "order_1", Amount: 100, Currency: "INR", Status: StatusCreated})
	}))
	t.Cleanup(srv.Close)

	var observed []string
	client := NewRazorpayClient(Config{
		BaseURL:   srv.URL,
		KeyID:     "rzp_test_key",
		KeySecret: "rzp_test_secret",
		Observe: func(operation string, started time.Time, err error) {
			assert.NoError(t, err)
			assert.False(t, started.IsZero())
			observed = append(observed, operation)
		},
	})

	_, err := client.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch_payment"}, observed)
}
