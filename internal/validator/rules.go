package validator

import (
	"log"

	"propmarket_backend/internal/models"

	"github.com/go-playground/validator/v10"
)

// registerCustomRules регистрирует все кастомные функции валидации в
// переданном экземпляре валидатора.
func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// Ошибка времени запуска, приложение не должно стартовать
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	// 'is-billing-cycle': monthly | yearly
	mustRegister("is-billing-cycle", validateBillingCycle)

	// 'is-payment-status': Проверяет, что статус платежа валиден
	mustRegister("is-payment-status", validatePaymentStatus)

	// 'is-user-role': Проверяет, что роль пользователя валидна
	mustRegister("is-user-role", validateUserRole)
}

// --- Функции валидации ---
// Пустые значения пропускаем, для этого есть 'required'

func validateBillingCycle(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return models.BillingCycle(value).IsValid()
}

func validatePaymentStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return models.PaymentStatus(value).IsValid()
}

func validateUserRole(fl validator.FieldLevel) bool {
	switch models.UserRole(fl.Field().String()) {
	case "", models.UserRoleUser, models.UserRoleAdmin, models.UserRoleSuperAdmin:
		return true
	}
	return false
}
