package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"propmarket_backend/internal/auth"
	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/services/payments"
	"propmarket_backend/internal/validator"
	"propmarket_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPayments - записывает аргументы и возвращает заданную ошибку
type stubPayments struct {
	payments.Service

	err         error
	userID      string
	isAdmin     bool
	orderReq    *dto.CreateSubscriptionOrderRequest
	refundReq   *dto.RefundRequest
	refundedID  string
	reconciled  [2]string
	statusOrder string
}

func (s *stubPayments) CreateSubscriptionOrder(ctx context.Context, userID string, req *dto.CreateSubscriptionOrderRequest) (*dto.OrderResponse, error) {
	s.userID, s.orderReq = userID, req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.OrderResponse{OrderID: "order_1", Amount: decimal.NewFromInt(9990), Currency: "INR", Type: models.PaymentTypeSubscription}, nil
}

func (s *stubPayments) VerifyAddonPayment(ctx context.Context, userID string, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	s.userID = userID
	if s.err != nil {
		return nil, s.err
	}
	return &dto.VerifyPaymentResponse{OrderID: req.OrderID, Status: models.PaymentStatusPaid}, nil
}

func (s *stubPayments) GetPaymentStatus(ctx context.Context, userID string, isAdmin bool, orderID string) (*dto.PaymentStatusResponse, error) {
	s.userID, s.isAdmin, s.statusOrder = userID, isAdmin, orderID
	return &dto.PaymentStatusResponse{OrderID: orderID, Status: models.PaymentStatusPending}, s.err
}

func (s *stubPayments) Refund(ctx context.Context, adminID, gatewayPaymentID string, req *dto.RefundRequest) (*dto.RefundResponse, error) {
	s.userID, s.refundedID, s.refundReq = adminID, gatewayPaymentID, req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.RefundResponse{PaymentID: gatewayPaymentID, Status: "processed"}, nil
}

func (s *stubPayments) Reconcile(ctx context.Context, orderID, gatewayPaymentID string) (*dto.VerifyPaymentResponse, error) {
	s.reconciled = [2]string{orderID, gatewayPaymentID}
	return &dto.VerifyPaymentResponse{OrderID: orderID, Status: models.PaymentStatusPaid}, s.err
}

type handlerEnv struct {
	router *gin.Engine
	tokens *auth.TokenManager
	stub   *stubPayments
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := auth.NewTokenManager("handler-secret", time.Hour)
	stub := &stubPayments{}
	h := NewPaymentHandler(NewBaseHandler(validator.New()), stub, tokens)

	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"))
	return &handlerEnv{router: router, tokens: tokens, stub: stub}
}

func (e *handlerEnv) request(t *testing.T, method, path string, role models.UserRole, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := e.tokens.Generate("user-"+string(role), role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) apperrors.ErrorCode {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestCreateSubscriptionOrder_PassesUserFromToken(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/payments/orders/subscription", models.UserRoleUser,
		`{"plan_id":"5b0c3e52-3c55-4a43-9d55-0a1f9f0e1f11","billing_cycle":"yearly","client_total":"9990.00"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "user-user", env.stub.userID)
	require.NotNil(t, env.stub.orderReq.ClientTotal)
	assert.True(t, env.stub.orderReq.ClientTotal.Equal(decimal.NewFromInt(9990)))
}

func TestCreateSubscriptionOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing plan", `{"billing_cycle":"yearly"}`},
		{"plan is not a uuid", `{"plan_id":"standard","billing_cycle":"yearly"}`},
		{"unknown cycle", `{"plan_id":"5b0c3e52-3c55-4a43-9d55-0a1f9f0e1f11","billing_cycle":"weekly"}`},
		{"addon is not a uuid", `{"plan_id":"5b0c3e52-3c55-4a43-9d55-0a1f9f0e1f11","billing_cycle":"monthly","addon_ids":["x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			w := env.request(t, http.MethodPost, "/api/v1/payments/orders/subscription", models.UserRoleUser, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, apperrors.CodeValidationFailed, errorCode(t, w))
			assert.Nil(t, env.stub.orderReq, "сервис не должен вызываться")
		})
	}
}

func TestCreateSubscriptionOrder_MalformedJSON(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/payments/orders/subscription", models.UserRoleUser, `{"plan_id":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, env.stub.orderReq)
}

func TestVerifyAddonPayment_ServiceErrorsKeepTheirStatus(t *testing.T) {
	env := newHandlerEnv(t)
	env.stub.err = apperrors.ErrNoNewAddons

	sig := bytes.Repeat([]byte("a"), 64)
	w := env.request(t, http.MethodPost, "/api/v1/payments/verify/addons", models.UserRoleUser,
		`{"order_id":"order_1","payment_id":"pay_1","signature":"`+string(sig)+`"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeNoNewAddons, errorCode(t, w))
}

func TestVerifyAddonPayment_RejectsNonHexSignature(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/payments/verify/addons", models.UserRoleUser,
		`{"order_id":"order_1","payment_id":"pay_1","signature":"not-a-signature"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.stub.userID)
}

func TestGetPaymentStatus_AdminFlagFromRole(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/payments/order_42/status", models.UserRoleUser, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.stub.isAdmin)
	assert.Equal(t, "order_42", env.stub.statusOrder)

	w = env.request(t, http.MethodGet, "/api/v1/payments/order_42/status", models.UserRoleAdmin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.stub.isAdmin)
}

func TestRefund_EmptyBodyMeansFullRefund(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/admin/payments/pay_1/refund", models.UserRoleAdmin, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pay_1", env.stub.refundedID)
	assert.Equal(t, "user-admin", env.stub.userID)
	require.NotNil(t, env.stub.refundReq)
	assert.Nil(t, env.stub.refundReq.Amount)
}

func TestRefund_PartialAmount(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/admin/payments/pay_1/refund", models.UserRoleSuperAdmin,
		`{"amount":"100.50","reason":"duplicate"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, env.stub.refundReq.Amount)
	assert.True(t, env.stub.refundReq.Amount.Equal(decimal.RequireFromString("100.50")))
	assert.Equal(t, "duplicate", env.stub.refundReq.Reason)
}

func TestRefund_ForbiddenForUsers(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/admin/payments/pay_1/refund", models.UserRoleUser, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.stub.refundedID)
}

func TestReconcile_PassesOrderAndPayment(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/admin/payments/order_7/reconcile", models.UserRoleAdmin, `{"payment_id":"pay_7"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, [2]string{"order_7", "pay_7"}, env.stub.reconciled)
}

func TestUnexpectedErrorsAreInternal(t *testing.T) {
	env := newHandlerEnv(t)
	env.stub.err = assert.AnError

	w := env.request(t, http.MethodPost, "/api/v1/admin/payments/order_7/reconcile", models.UserRoleAdmin, `{"payment_id":"pay_7"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}
