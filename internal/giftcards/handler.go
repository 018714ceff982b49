package giftcards

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glowdesk/glowdesk/pkg/common"
	"github.com/glowdesk/glowdesk/pkg/middleware"
	"github.com/glowdesk/glowdesk/pkg/pagination"
	"github.com/glowdesk/glowdesk/pkg/validation"
)

// Handler handles HTTP requests for gift cards
type Handler struct {
	service *Service
}

// NewHandler creates a new gift card handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the gift card endpoints onto an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	cards := rg.Group("/giftcards")
	{
		cards.GET("", h.ListCards)
		cards.POST("", h.IssueCard)
		cards.POST("/validate", h.ValidateCode)
		cards.POST("/redeem", h.RedeemCard)
		cards.GET("/code/:code", h.GetCardByCode)
		cards.GET("/:id", h.GetCard)
		cards.PUT("/:id", h.UpdateCard)
		cards.GET("/:id/transactions", h.ListTransactions)
		cards.POST("/:id/refund", h.RefundCard)
		cards.POST("/:id/adjust", h.AdjustBalance)
		cards.POST("/:id/cancel", h.CancelCard)
	}
}

// IssueCard creates a new gift card
func (h *Handler) IssueCard(c *gin.Context) {
	actorID, ok := middleware.GetUserID(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var req IssueGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	card, err := h.service.IssueCard(c.Request.Context(), &req, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.CreatedResponse(c, card)
}

// ListCards returns a paginated, filterable card listing
func (h *Handler) ListCards(c *gin.Context) {
	params := pagination.ParseParams(c)

	filter := ListFilter{Code: c.Query("code")}
	if status := c.Query("status"); status != "" {
		s := CardStatus(status)
		filter.Status = &s
	}
	if raw := c.Query("recipient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid recipient_id")
			return
		}
		filter.RecipientID = &id
	}
	if raw := c.Query("purchaser_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid purchaser_id")
			return
		}
		filter.PurchasedByID = &id
	}

	cards, total, err := h.service.ListCards(c.Request.Context(), filter, params.Limit, params.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	common.PaginatedResponse(c, cards, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// GetCard returns a single card by ID
func (h *Handler) GetCard(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid card ID")
		return
	}

	card, err := h.service.GetCard(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// GetCardByCode returns a single card by its redemption code
func (h *Handler) GetCardByCode(c *gin.Context) {
	card, err := h.service.GetCardByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// ListTransactions returns the card's full ledger history
func (h *Handler) ListTransactions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid card ID")
		return
	}

	transactions, err := h.service.ListTransactions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, transactions)
}

// ValidateCode checks whether a code can be redeemed right now
func (h *Handler) ValidateCode(c *gin.Context) {
	var req ValidateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.ValidateCode(c.Request.Context(), req.Code, req.Amount, req.ServiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, result)
}

// RedeemCard spends balance from a card identified by code
func (h *Handler) RedeemCard(c *gin.Context) {
	actorID, ok := middleware.GetUserID(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var req RedeemGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = NormalizeCode(req.Code)
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	card, err := h.service.RedeemCard(c.Request.Context(), &req, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// RefundCard credits value back onto a card
func (h *Handler) RefundCard(c *gin.Context) {
	actorID, ok := middleware.GetUserID(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid card ID")
		return
	}

	var req RefundGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	card, err := h.service.RefundCard(c.Request.Context(), id, &req, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// AdjustBalance applies a signed manual correction to a card
func (h *Handler) AdjustBalance(c *gin.Context) {
	actorID, ok := middleware.GetUserID(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid card ID")
		return
	}

	var req AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	card, err := h.service.AdjustBalance(c.Request.Context(), id, &req, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// CancelCard voids a card
func (h *Handler) CancelCard(c *gin.Context) {
	actorID, ok := middleware.GetUserID(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid card ID")
		return
	}

	var req CancelGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	card, err := h.service.CancelCard(c.Request.Context(), id, req.Reason, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// UpdateCard edits presentational metadata on an active card
func (h *Handler) UpdateCard(c *gin.Context) {
	actorID, ok := middleware.GetUserID(c)
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid card ID")
		return
	}

	var req UpdateGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	card, err := h.service.UpdateCard(c.Request.Context(), id, &req, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, card)
}

// respondError maps domain errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrCardNotFound):
		common.ErrorResponse(c, http.StatusNotFound, "gift card not found")
	case errors.Is(err, ErrDuplicateCode),
		errors.Is(err, ErrCodeGenerationExhausted),
		errors.Is(err, ErrStateConflict):
		common.ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrCardCancelled),
		errors.Is(err, ErrCardExpired),
		errors.Is(err, ErrCardUsed),
		errors.Is(err, ErrCardNotActive),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDateRange):
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
	default:
		common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
	}
}
