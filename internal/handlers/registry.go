package handlers

import (
	"propmarket_backend/internal/auth"
	"propmarket_backend/internal/services"
	"propmarket_backend/internal/validator"
)

// AppHandlers содержит все хэндлеры приложения.
type AppHandlers struct {
	PaymentHandler *PaymentHandler
	CatalogHandler *CatalogHandler
}

func NewAppHandlers(services *services.ServiceContainer, v *validator.Validator, tokens *auth.TokenManager) *AppHandlers {
	base := NewBaseHandler(v)
	return &AppHandlers{
		PaymentHandler: NewPaymentHandler(base, services.PaymentService, tokens),
		CatalogHandler: NewCatalogHandler(base, services.CatalogService, tokens),
	}
}
