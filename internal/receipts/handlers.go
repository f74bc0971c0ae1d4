package receipts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/smarterescrow/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves mined receipts.
type Handler struct {
	service *Service
}

// NewHandler creates a new receipt handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the read-only receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/receipts/:hash", h.GetReceipt)
	r.GET("/receipts/:hash/logs", h.GetLogs)
	r.GET("/accounts/:address/receipts", validation.AddressParam(), h.ListByAccount)
}

// GetReceipt handles GET /v1/receipts/:hash
func (h *Handler) GetReceipt(c *gin.Context) {
	receipt, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// GetLogs handles GET /v1/receipts/:hash/logs
func (h *Handler) GetLogs(c *gin.Context) {
	receipt, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": receipt.Logs, "count": len(receipt.Logs)})
}

func (h *Handler) lookup(c *gin.Context) (*Receipt, bool) {
	hash := c.Param("hash")
	if !validation.IsTxHash(hash) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "hash must be a 0x-prefixed 32-byte hex string",
		})
		return nil, false
	}

	receipt, err := h.service.Get(c.Request.Context(), hash)
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Receipt not found",
		})
		return nil, false
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return nil, false
	}
	return receipt, true
}

// ListByAccount handles GET /v1/accounts/:address/receipts, newest first.
func (h *Handler) ListByAccount(c *gin.Context) {
	receipts, err := h.service.ListByAccount(c.Request.Context(), c.Param("address"), listLimit(c.Query("limit")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receipts": receipts,
		"count":    len(receipts),
	})
}

// listLimit parses ?limit=, falling back to the default for junk and
// clamping to the maximum.
func listLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}
