package handlers

import (
	"context"
	"net/http"

	"propmarket_backend/internal/auth"
	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/middleware"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/services/payments"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	*BaseHandler
	paymentService payments.Service
	tokens         *auth.TokenManager
}

func NewPaymentHandler(base *BaseHandler, paymentService payments.Service, tokens *auth.TokenManager) *PaymentHandler {
	return &PaymentHandler{
		BaseHandler:    base,
		paymentService: paymentService,
		tokens:         tokens,
	}
}

func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Protected routes - заказы и верификация
	payments := r.Group("/payments")
	payments.Use(middleware.AuthMiddleware(h.tokens))
	{
		payments.POST("/orders/subscription", middleware.RequirePermission(auth.PermPaymentsCreate), h.CreateSubscriptionOrder)
		payments.POST("/orders/addons", middleware.RequirePermission(auth.PermPaymentsCreate), h.CreateAddonOrder)
		payments.POST("/verify/subscription", middleware.RequirePermission(auth.PermPaymentsCreate), h.VerifySubscriptionPayment)
		payments.POST("/verify/addons", middleware.RequirePermission(auth.PermPaymentsCreate), h.VerifyAddonPayment)
		payments.GET("/:orderId/status", middleware.RequirePermission(auth.PermPaymentsRead), h.GetPaymentStatus)
	}

	subscriptions := r.Group("/subscriptions")
	subscriptions.Use(middleware.AuthMiddleware(h.tokens))
	{
		subscriptions.GET("/my", h.GetMySubscription)
	}

	// Admin routes
	admin := r.Group("/admin/payments")
	admin.Use(middleware.AuthMiddleware(h.tokens), middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleSuperAdmin))
	{
		admin.GET("/stats", h.GetStats)
		admin.POST("/sweep", middleware.RequirePermission(auth.PermPaymentsSweep), h.Sweep)
		admin.POST("/:paymentId/refund", middleware.RequirePermission(auth.PermPaymentsRefund), h.Refund)
		// :paymentId здесь - id заказа шлюза; gin не допускает разные имена параметров на одном уровне
		admin.POST("/:paymentId/reconcile", middleware.RequirePermission(auth.PermPaymentsReconcile), h.Reconcile)
	}
}

// ============================================
// Orders
// ============================================

// CreateSubscriptionOrder godoc
// @Summary Создать заказ на подписку
// @Description Считает итог на сервере (план + аддоны), создаёт заказ в шлюзе и pending платеж
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateSubscriptionOrderRequest true "План, период и аддоны"
// @Success 201 {object} dto.OrderResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 404 {object} apperrors.ErrorResponse "План или аддон не найден"
// @Failure 409 {object} apperrors.ErrorResponse "Уже есть активная подписка"
// @Failure 502 {object} apperrors.ErrorResponse
// @Router /payments/orders/subscription [post]
func (h *PaymentHandler) CreateSubscriptionOrder(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	var req dto.CreateSubscriptionOrderRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	order, err := h.paymentService.CreateSubscriptionOrder(c.Request.Context(), userID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// CreateAddonOrder godoc
// @Summary Создать заказ на аддоны
// @Description Цена считается только по аддонам, которых ещё нет в активной подписке
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateAddonOrderRequest true "Аддоны"
// @Success 201 {object} dto.OrderResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse "Нет новых аддонов"
// @Router /payments/orders/addons [post]
func (h *PaymentHandler) CreateAddonOrder(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	var req dto.CreateAddonOrderRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	order, err := h.paymentService.CreateAddonOrder(c.Request.Context(), userID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// ============================================
// Verification
// ============================================

// VerifySubscriptionPayment godoc
// @Summary Подтвердить оплату подписки
// @Description Проверяет HMAC подпись шлюза и активирует подписку. Повторный вызов возвращает already_processed
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.VerifyPaymentRequest true "order_id, payment_id, signature"
// @Success 200 {object} dto.VerifyPaymentResponse
// @Failure 400 {object} apperrors.ErrorResponse "Подпись не совпала"
// @Failure 404 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse "Платеж уже отменён"
// @Router /payments/verify/subscription [post]
func (h *PaymentHandler) VerifySubscriptionPayment(c *gin.Context) {
	h.verify(c, h.paymentService.VerifySubscriptionPayment)
}

// VerifyAddonPayment godoc
// @Summary Подтвердить оплату аддонов
// @Description Проверяет подпись и добавляет в подписку только новые аддоны
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.VerifyPaymentRequest true "order_id, payment_id, signature"
// @Success 200 {object} dto.VerifyPaymentResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse "Нет новых аддонов"
// @Router /payments/verify/addons [post]
func (h *PaymentHandler) VerifyAddonPayment(c *gin.Context) {
	h.verify(c, h.paymentService.VerifyAddonPayment)
}

func (h *PaymentHandler) verify(c *gin.Context, fn func(ctx context.Context, userID string, req *dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error)) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	var req dto.VerifyPaymentRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	res, err := fn(c.Request.Context(), userID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// ============================================
// Reads
// ============================================

// GetPaymentStatus godoc
// @Summary Статус платежа
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "ID заказа шлюза"
// @Success 200 {object} dto.PaymentStatusResponse
// @Failure 404 {object} apperrors.ErrorResponse
// @Router /payments/{orderId}/status [get]
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	orderID, err := ParseParamID(c, "orderId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	status, err := h.paymentService.GetPaymentStatus(c.Request.Context(), userID, h.HasPermission(c, auth.PermPaymentsReadAll), orderID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetMySubscription godoc
// @Summary Текущая подписка пользователя
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} apperrors.ErrorResponse "Нет активной подписки"
// @Router /subscriptions/my [get]
func (h *PaymentHandler) GetMySubscription(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	sub, err := h.paymentService.GetMySubscription(c.Request.Context(), userID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// ============================================
// Admin
// ============================================

// Refund godoc
// @Summary Возврат платежа
// @Description Полный (без amount) или частичный возврат; сумма возвратов не превышает платеж
// @Tags admin-payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param paymentId path string true "ID платежа шлюза"
// @Param request body dto.RefundRequest false "Сумма и причина"
// @Success 200 {object} dto.RefundResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 404 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /admin/payments/{paymentId}/refund [post]
func (h *PaymentHandler) Refund(c *gin.Context) {
	adminID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	paymentID, err := ParseParamID(c, "paymentId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	var req dto.RefundRequest
	// тело необязательно: пустой запрос = полный возврат
	if c.Request.ContentLength != 0 && !h.BindAndValidate_JSON(c, &req) {
		return
	}

	res, err := h.paymentService.Refund(c.Request.Context(), adminID, paymentID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Reconcile godoc
// @Summary Сверка заказа со шлюзом
// @Description Для заказов, где клиент не вернулся с подписью: запрашивает платеж у шлюза и финализирует
// @Tags admin-payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param paymentId path string true "ID заказа шлюза"
// @Param request body dto.ReconcileRequest true "ID платежа шлюза"
// @Success 200 {object} dto.VerifyPaymentResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 404 {object} apperrors.ErrorResponse
// @Failure 502 {object} apperrors.ErrorResponse
// @Router /admin/payments/{paymentId}/reconcile [post]
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	orderID, err := ParseParamID(c, "paymentId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	var req dto.ReconcileRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	res, err := h.paymentService.Reconcile(c.Request.Context(), orderID, req.PaymentID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Sweep godoc
// @Summary Запустить очистку просроченных заказов
// @Tags admin-payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SweepResponse
// @Router /admin/payments/sweep [post]
func (h *PaymentHandler) Sweep(c *gin.Context) {
	res, err := h.paymentService.SweepExpired(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetStats godoc
// @Summary Статистика платежей
// @Tags admin-payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.PaymentStatsResponse
// @Router /admin/payments/stats [get]
func (h *PaymentHandler) GetStats(c *gin.Context) {
	stats, err := h.paymentService.Stats(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
