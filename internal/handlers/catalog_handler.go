package handlers

import (
	"net/http"

	"propmarket_backend/internal/auth"
	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/middleware"
	"propmarket_backend/internal/models"
	"propmarket_backend/internal/services/catalog"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	*BaseHandler
	catalogService catalog.Service
	tokens         *auth.TokenManager
}

func NewCatalogHandler(base *BaseHandler, catalogService catalog.Service, tokens *auth.TokenManager) *CatalogHandler {
	return &CatalogHandler{
		BaseHandler:    base,
		catalogService: catalogService,
		tokens:         tokens,
	}
}

func (h *CatalogHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Public routes
	r.GET("/plans", h.GetPlans)
	r.GET("/addons", h.GetAddons)

	// Admin routes - Plan management
	adminPlans := r.Group("/admin/plans")
	adminPlans.Use(middleware.AuthMiddleware(h.tokens), middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleSuperAdmin))
	{
		adminPlans.PUT("/:planId/price", middleware.RequirePermission(auth.PermPlansWrite), h.ChangePlanPrice)
		adminPlans.GET("/:planId/price-history", h.GetPriceHistory)
	}
}

// GetPlans godoc
// @Summary Список активных тарифов
// @Description price - за месяц, yearly_price - за год с учётом оплачиваемых месяцев
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /plans [get]
func (h *CatalogHandler) GetPlans(c *gin.Context) {
	plans, err := h.catalogService.ListPlans(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": plans,
		"total": len(plans),
	})
}

// GetAddons godoc
// @Summary Список активных аддонов
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /addons [get]
func (h *CatalogHandler) GetAddons(c *gin.Context) {
	addons, err := h.catalogService.ListAddons(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"addons": addons,
		"total":  len(addons),
	})
}

// ChangePlanPrice godoc
// @Summary Изменить цену тарифа
// @Description Новая цена действует только для новых заказов; история пишется в той же транзакции
// @Tags admin-plans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param planId path string true "ID тарифа"
// @Param request body dto.ChangePlanPriceRequest true "Новая цена"
// @Success 200 {object} dto.PriceHistoryResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Failure 404 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse "Цена не изменилась"
// @Router /admin/plans/{planId}/price [put]
func (h *CatalogHandler) ChangePlanPrice(c *gin.Context) {
	adminID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	planID, err := ParseParamID(c, "planId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	var req dto.ChangePlanPriceRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	entry, err := h.catalogService.ChangePlanPrice(c.Request.Context(), adminID, planID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

// GetPriceHistory godoc
// @Summary История цен тарифа
// @Tags admin-plans
// @Produce json
// @Security BearerAuth
// @Param planId path string true "ID тарифа"
// @Success 200 {array} dto.PriceHistoryResponse
// @Failure 404 {object} apperrors.ErrorResponse
// @Router /admin/plans/{planId}/price-history [get]
func (h *CatalogHandler) GetPriceHistory(c *gin.Context) {
	planID, err := ParseParamID(c, "planId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	history, err := h.catalogService.PriceHistory(c.Request.Context(), planID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}
