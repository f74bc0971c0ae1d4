package escrow

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/smarterescrow/internal/chain"
	"github.com/mbd888/smarterescrow/internal/proxy"
	"github.com/mbd888/smarterescrow/internal/validation"
)

// Handler provides HTTP endpoints for the escrow workflow.
type Handler struct {
	service *Service
	signers chain.Signers
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service, signers chain.Signers) *Handler {
	return &Handler{service: service, signers: signers}
}

// RegisterRoutes sets up the escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Deploy)
	r.POST("/escrows/proxy", h.CreateProxy)

	g := r.Group("/escrows/:address", validation.AddressParam())
	g.GET("", h.Get)
	g.POST("/upgrade", h.Upgrade)
	g.POST("/deposit", h.Deposit)
	g.POST("/confirm", h.ConfirmDelivery)
	g.POST("/eject", h.EjectFunds)
}

// DeployRequest is the body of POST /v1/escrows.
type DeployRequest struct {
	From   string `json:"from" binding:"required"`
	Buyer  string `json:"buyer" binding:"required"`
	Seller string `json:"seller" binding:"required"`
}

// ProxyRequest is the body of POST /v1/escrows/proxy.
type ProxyRequest struct {
	From    string `json:"from" binding:"required"`
	Version string `json:"version"`
	Buyer   string `json:"buyer" binding:"required"`
	Seller  string `json:"seller" binding:"required"`
}

// UpgradeRequest is the body of POST /v1/escrows/:address/upgrade.
type UpgradeRequest struct {
	From    string `json:"from" binding:"required"`
	Version string `json:"version" binding:"required"`
}

// ActionRequest is the body of the deposit, confirm and eject routes.
// Value only applies to deposits.
type ActionRequest struct {
	From  string `json:"from" binding:"required"`
	Value string `json:"value"`
}

// Deploy handles POST /v1/escrows
func (h *Handler) Deploy(c *gin.Context) {
	var req DeployRequest
	if !bind(c, &req) {
		return
	}
	if !validation.Check(c,
		validation.Address("from", req.From),
		validation.Address("buyer", req.Buyer),
		validation.Address("seller", req.Seller),
	) {
		return
	}
	from, ok := h.sender(c, req.From)
	if !ok {
		return
	}

	res, err := h.service.Deploy(c.Request.Context(), from, common.HexToAddress(req.Buyer), common.HexToAddress(req.Seller))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// CreateProxy handles POST /v1/escrows/proxy
func (h *Handler) CreateProxy(c *gin.Context) {
	var req ProxyRequest
	if !bind(c, &req) {
		return
	}
	if req.Version == "" {
		req.Version = VersionV0
	}
	if !validation.Check(c,
		validation.Address("from", req.From),
		validation.Address("buyer", req.Buyer),
		validation.Address("seller", req.Seller),
		validation.OneOf("version", req.Version, VersionV0, VersionV1),
	) {
		return
	}
	from, ok := h.sender(c, req.From)
	if !ok {
		return
	}

	res, err := h.service.CreateProxy(c.Request.Context(), from, req.Version,
		common.HexToAddress(req.Buyer), common.HexToAddress(req.Seller))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Get handles GET /v1/escrows/:address
func (h *Handler) Get(c *gin.Context) {
	v, err := h.service.Get(c.Request.Context(), common.HexToAddress(c.Param("address")))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": v})
}

// Upgrade handles POST /v1/escrows/:address/upgrade
func (h *Handler) Upgrade(c *gin.Context) {
	var req UpgradeRequest
	if !bind(c, &req) {
		return
	}
	if !validation.Check(c,
		validation.Address("from", req.From),
		validation.OneOf("version", req.Version, VersionV0, VersionV1),
	) {
		return
	}
	from, ok := h.sender(c, req.From)
	if !ok {
		return
	}

	res, err := h.service.Upgrade(c.Request.Context(), from, common.HexToAddress(c.Param("address")), req.Version)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Deposit handles POST /v1/escrows/:address/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req ActionRequest
	if !bind(c, &req) {
		return
	}
	if !validation.Check(c,
		validation.Address("from", req.From),
		validation.Required("value", req.Value),
		validation.Wei("value", req.Value),
	) {
		return
	}
	from, ok := h.sender(c, req.From)
	if !ok {
		return
	}
	value, _ := validation.ParseWei(req.Value)

	res, err := h.service.Deposit(c.Request.Context(), from, common.HexToAddress(c.Param("address")), value)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ConfirmDelivery handles POST /v1/escrows/:address/confirm
func (h *Handler) ConfirmDelivery(c *gin.Context) {
	from, ok := h.action(c)
	if !ok {
		return
	}
	res, err := h.service.ConfirmDelivery(c.Request.Context(), from, common.HexToAddress(c.Param("address")))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EjectFunds handles POST /v1/escrows/:address/eject
func (h *Handler) EjectFunds(c *gin.Context) {
	from, ok := h.action(c)
	if !ok {
		return
	}
	res, err := h.service.EjectFunds(c.Request.Context(), from, common.HexToAddress(c.Param("address")))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) action(c *gin.Context) (common.Address, bool) {
	var req ActionRequest
	if !bind(c, &req) {
		return common.Address{}, false
	}
	if !validation.Check(c, validation.Address("from", req.From)) {
		return common.Address{}, false
	}
	return h.sender(c, req.From)
}

func (h *Handler) sender(c *gin.Context, raw string) (common.Address, bool) {
	from := common.HexToAddress(raw)
	if !h.signers.Unlocked(from) {
		WriteError(c, chain.ErrUnknownSender)
		return common.Address{}, false
	}
	return from, true
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	return true
}

// WriteError maps escrow, proxy and host errors to the standard error body.
func WriteError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)
	chain.WriteCodedError(c, status, code, err)
}

// ErrorStatus maps escrow and proxy errors, falling back to the host's
// mapping.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrInvalidParty):
		return http.StatusBadRequest, "invalid_party"
	case errors.Is(err, ErrAlreadyInitialized):
		return http.StatusConflict, "already_initialized"
	case errors.Is(err, ErrNotEscrow), errors.Is(err, proxy.ErrNotProxy):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, proxy.ErrIncompatibleLayout):
		return http.StatusConflict, "incompatible_layout"
	case errors.Is(err, proxy.ErrNotOwner), errors.Is(err, proxy.ErrAdminFallback):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, proxy.ErrUnknownVersion):
		return http.StatusBadRequest, "validation_error"
	}
	return chain.ErrorStatus(err)
}
