package transactions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/fraudradar/internal/logging"
)

// Handler provides the read-only HTTP endpoints for the dashboard.
type Handler struct {
	service *Service
}

// NewHandler creates a new transactions handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the query routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/metrics", h.GetMetrics)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/alerts", h.ListAlerts)
	r.GET("/explain/:id", h.Explain)
}

// GetMetrics handles GET /api/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	m, err := h.service.Metrics(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to compute metrics", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// ListTransactions handles GET /api/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	txs, err := h.service.ListTransactions(c.Request.Context(), parseLimit(c))
	if err != nil {
		h.internalError(c, "Failed to list transactions", err)
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	c.JSON(http.StatusOK, txs)
}

// ListAlerts handles GET /api/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	alerts, err := h.service.ListAlerts(c.Request.Context(), parseLimit(c))
	if err != nil {
		h.internalError(c, "Failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []*Alert{}
	}
	c.JSON(http.StatusOK, alerts)
}

// Explain handles GET /api/explain/:id
func (h *Handler) Explain(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":      false,
			"error":   "invalid_id",
			"message": "Transaction id must be a positive integer",
		})
		return
	}

	text, err := h.service.Explain(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"ok":      false,
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		h.internalError(c, "Failed to explain transaction", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "explanation": text})
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	logging.L(c.Request.Context()).Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": msg,
	})
}

func parseLimit(c *gin.Context) int {
	limit := DefaultListLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}
