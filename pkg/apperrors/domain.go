package apperrors

import (
	"net/http"
)

// =========================================================================
// Фабричные ФУНКЦИИ
// =========================================================================

// ErrNotFound - "не найдено" (404) для конкретного домена (plan, addon, payment...)
func ErrNotFound(domain, message string) *AppError {
	return New(CodeNotFound, domain, message, http.StatusNotFound)
}

// ErrConflict - общая фабрика для конфликтов (409)
func ErrConflict(domain, message string) *AppError {
	return New(CodeConflict, domain, message, http.StatusConflict)
}

// ErrValidation - 400 с доменом и сообщением
func ErrValidation(domain, message string) *AppError {
	return New(CodeValidationFailed, domain, message, http.StatusBadRequest)
}

// ErrGateway - удаленный вызов платежного шлюза не удался (502).
// Сообщение шлюза в ответ не попадает, только в Err для логов.
func ErrGateway(err error) *AppError {
	return Wrap(err, CodeExternalServiceError, "payment", "Payment provider error", http.StatusBadGateway)
}

// ErrInvalidStatus - фабрика для невалидных статусов (400)
func ErrInvalidStatus(domain, message string) *AppError {
	return New(CodeInvalidStatus, domain, message, http.StatusBadRequest)
}

// =========================================================================
// Предопределенные ПЕРЕМЕННЫЕ
// =========================================================================

// ErrInsufficientPermissions - не-админ пытается выполнить админ-действие.
var ErrInsufficientPermissions = New(
	CodeForbidden,
	"auth",
	"Insufficient permissions",
	http.StatusForbidden,
)

// --- Subscriptions & Payments ---

// ErrGatewayNotConfigured - ключи шлюза не заданы. Фатально, никаких "фейковых" заказов.
var ErrGatewayNotConfigured = New(
	CodeGatewayNotConfigured,
	"payment",
	"Payment gateway is not configured",
	http.StatusInternalServerError,
)

// ErrGatewayTimeout - шлюз не ответил вовремя. Результат неизвестен.
var ErrGatewayTimeout = New(
	CodeGatewayTimeout,
	"payment",
	"Payment provider did not respond in time",
	http.StatusGatewayTimeout,
)

// ErrSignatureMismatch - подпись не прошла проверку. Ожидаемую подпись не раскрываем.
var ErrSignatureMismatch = New(
	CodeSignatureMismatch,
	"payment",
	"Payment signature verification failed",
	http.StatusBadRequest,
)

// ErrPaymentAlreadyFinalized - платеж уже отменен/провален, повторная верификация невозможна.
var ErrPaymentAlreadyFinalized = New(
	CodePaymentAlreadyFinalized,
	"payment",
	"Payment is already finalized",
	http.StatusConflict,
)

// ErrNoNewAddons - все запрошенные аддоны уже есть в подписке.
var ErrNoNewAddons = New(
	CodeNoNewAddons,
	"subscription",
	"All requested addons are already active on the subscription",
	http.StatusConflict,
)

// ErrActiveSubscriptionExists - у пользователя уже есть активная подписка.
var ErrActiveSubscriptionExists = New(
	CodeConflict,
	"subscription",
	"User already has an active subscription",
	http.StatusConflict,
)

// ErrNoActiveSubscription - для покупки аддонов нужна активная подписка.
var ErrNoActiveSubscription = New(
	CodeNotFound,
	"subscription",
	"No active subscription found",
	http.StatusNotFound,
)

// ErrInvalidPaymentAmount - сумма платежа не совпадает.
var ErrInvalidPaymentAmount = New(
	CodeConflict,
	"payment",
	"Invalid payment amount",
	http.StatusConflict,
)
