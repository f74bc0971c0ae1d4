package chain

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/smarterescrow/internal/validation"
)

// ErrUnknownSender is returned when a request names a sender the node
// holds no key for.
var ErrUnknownSender = errors.New("chain: sender is not an unlocked account")

// Signers is the set of accounts the node sends transactions for.
type Signers interface {
	Addresses() []common.Address
	Unlocked(addr common.Address) bool
}

// Handler provides HTTP endpoints for accounts and raw transactions.
type Handler struct {
	chain   *Chain
	signers Signers
}

// NewHandler creates a new chain handler.
func NewHandler(chain *Chain, signers Signers) *Handler {
	return &Handler{chain: chain, signers: signers}
}

// RegisterRoutes sets up the account and transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.ListAccounts)
	r.GET("/accounts/:address", validation.AddressParam(), h.GetAccount)
	r.POST("/transactions", h.SendTransaction)
	r.POST("/call", h.Call)
}

// AccountView is the JSON form of an account.
type AccountView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Code    string `json:"code,omitempty"`
}

func (h *Handler) account(ctx context.Context, addr common.Address) (*AccountView, error) {
	bal, err := h.chain.BalanceAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	nonce, err := h.chain.NonceAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	code, err := h.chain.CodeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &AccountView{Address: strings.ToLower(addr.Hex()), Balance: bal.Dec(), Nonce: nonce, Code: code}, nil
}

// ListAccounts handles GET /v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	addrs := h.signers.Addresses()
	out := make([]*AccountView, 0, len(addrs))
	for _, addr := range addrs {
		v, err := h.account(c.Request.Context(), addr)
		if err != nil {
			WriteError(c, err)
			return
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out, "count": len(out)})
}

// GetAccount handles GET /v1/accounts/:address
func (h *Handler) GetAccount(c *gin.Context) {
	v, err := h.account(c.Request.Context(), common.HexToAddress(c.Param("address")))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": v})
}

// TxRequest is the body of POST /v1/transactions and /v1/call. Either Data
// or Method (with Args) selects what to run.
type TxRequest struct {
	From     string   `json:"from" binding:"required"`
	To       string   `json:"to" binding:"required"`
	Value    string   `json:"value"`
	Data     string   `json:"data"`
	Method   string   `json:"method"`
	Args     []string `json:"args"`
	GasLimit uint64   `json:"gasLimit"`
}

func (h *Handler) buildTx(c *gin.Context) (*Tx, string, bool) {
	var req TxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil, "", false
	}
	if !validation.Check(c,
		validation.Address("from", req.From),
		validation.Address("to", req.To),
		validation.Wei("value", req.Value),
		validation.HexData("data", req.Data),
	) {
		return nil, "", false
	}

	from := common.HexToAddress(req.From)
	to := common.HexToAddress(req.To)
	value, _ := validation.ParseWei(req.Value)
	tx := &Tx{From: from, To: to, Value: value, GasLimit: req.GasLimit}

	if req.Method == "" {
		tx.Data = common.FromHex(req.Data)
		return tx, "", true
	}
	a, err := h.chain.ABIAt(c.Request.Context(), to)
	if err != nil {
		WriteError(c, err)
		return nil, "", false
	}
	m, ok := a.Methods[req.Method]
	if !ok {
		WriteError(c, ErrMethodNotFound)
		return nil, "", false
	}
	args, err := ParseArgs(m.Inputs, req.Args)
	if err != nil {
		WriteError(c, err)
		return nil, "", false
	}
	tx.Data, err = packMethod(a, req.Method, args...)
	if err != nil {
		WriteError(c, err)
		return nil, "", false
	}
	return tx, req.Method, true
}

// SendTransaction handles POST /v1/transactions
func (h *Handler) SendTransaction(c *gin.Context) {
	tx, _, ok := h.buildTx(c)
	if !ok {
		return
	}
	if !h.signers.Unlocked(tx.From) {
		WriteError(c, ErrUnknownSender)
		return
	}

	res, err := h.chain.Transact(c.Request.Context(), *tx)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"receipt": res.Receipt,
		"return":  "0x" + common.Bytes2Hex(res.Return),
	})
}

// Call handles POST /v1/call
func (h *Handler) Call(c *gin.Context) {
	tx, method, ok := h.buildTx(c)
	if !ok {
		return
	}

	out, err := h.chain.Call(c.Request.Context(), *tx)
	if err != nil {
		WriteError(c, err)
		return
	}
	resp := gin.H{"return": "0x" + common.Bytes2Hex(out)}
	if method != "" {
		if a, err := h.chain.ABIAt(c.Request.Context(), tx.To); err == nil {
			if values, err := a.Unpack(method, out); err == nil {
				resp["decoded"] = FormatValues(a.Methods[method].Outputs, values)
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ErrorStatus maps host errors to an HTTP status and error code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMethodNotFound):
		return http.StatusNotFound, "method_not_found"
	case errors.Is(err, ErrNotPayable):
		return http.StatusBadRequest, "not_payable"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, ErrUnknownSender):
		return http.StatusForbidden, "unknown_sender"
	case errors.Is(err, ErrNoCode), errors.Is(err, ErrUnknownCode):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrIntrinsicGas):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrOutOfGas):
		return http.StatusUnprocessableEntity, "out_of_gas"
	case errors.Is(err, ErrNoGenesis):
		return http.StatusServiceUnavailable, "not_ready"
	case isRevert(err):
		return http.StatusUnprocessableEntity, "reverted"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError writes err using ErrorStatus. Revert reasons are surfaced as
// the message.
func WriteError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)
	WriteCodedError(c, status, code, err)
}

// WriteCodedError writes the standard error body.
func WriteCodedError(c *gin.Context, status int, code string, err error) {
	msg := err.Error()
	if reason, ok := RevertReason(err); ok && reason != "" {
		msg = reason
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": msg,
	})
}
