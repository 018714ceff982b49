package reporting

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glowdesk/glowdesk/pkg/common"
)

// Handler handles HTTP requests for gift card reporting
type Handler struct {
	service *Service
}

// NewHandler creates a new reporting handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the reporting endpoints onto an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/giftcards/stats", h.GetStats)
}

// GetStats returns the ledger-wide aggregates
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to compute gift card stats")
		return
	}

	common.SuccessResponse(c, stats)
}
