package repositories

import "errors"

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrAddonNotFound        = errors.New("addon service not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found")

	// ErrActiveSubscriptionExists - нарушение "одна active подписка на пользователя"
	ErrActiveSubscriptionExists = errors.New("user already has an active subscription")
	ErrDuplicateOrder           = errors.New("payment with this order id already exists")

	// ErrLockOutsideTransaction - блокировки имеют смысл только внутри транзакции
	ErrLockOutsideTransaction = errors.New("lock requested outside of transaction")
)
