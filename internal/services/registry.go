package services

import (
	"propmarket_backend/internal/email"
	"propmarket_backend/internal/services/catalog"
	"propmarket_backend/internal/services/payments"
)

// ServiceContainer содержит все сервисы приложения.
type ServiceContainer struct {
	PaymentService payments.Service
	CatalogService catalog.Service
	EmailService   email.Provider
}
