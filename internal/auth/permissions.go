package auth

import "propmarket_backend/internal/models"

// Разрешения платежного ядра
const (
	PermPaymentsCreate    = "payments:create"
	PermPaymentsRead      = "payments:read"
	PermPaymentsReadAll   = "payments:read:all"
	PermPaymentsRefund    = "payments:refund"
	PermPaymentsReconcile = "payments:reconcile"
	PermPaymentsSweep     = "payments:sweep"
	PermPlansWrite        = "plans:write"
)

// Permissions список разрешений по ролям
var Permissions = map[models.UserRole][]string{
	models.UserRoleSuperAdmin: {
		PermPaymentsCreate,
		PermPaymentsRead,
		PermPaymentsReadAll,
		PermPaymentsRefund,
		PermPaymentsReconcile,
		PermPaymentsSweep,
		PermPlansWrite,
	},
	models.UserRoleAdmin: {
		PermPaymentsCreate,
		PermPaymentsRead,
		PermPaymentsReadAll,
		PermPaymentsRefund,
		PermPaymentsReconcile,
		PermPaymentsSweep,
		PermPlansWrite,
	},
	models.UserRoleUser: {
		PermPaymentsCreate,
		PermPaymentsRead,
	},
}

// HasPermission проверяет есть ли у роли указанное разрешение
func HasPermission(role models.UserRole, permission string) bool {
	for _, p := range Permissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}
