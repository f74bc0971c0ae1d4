package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *NodeClient
	from   string
}

// NewHandlers creates a new Handlers instance. from is the sender used when
// a tool call does not name one.
func NewHandlers(client *NodeClient, from string) *Handlers {
	return &Handlers{client: client, from: from}
}

// HandleListAccounts lists the node's unlocked accounts.
func (h *Handlers) HandleListAccounts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListAccounts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list accounts: %v", err)), nil
	}

	var resp struct {
		Accounts []accountInfo `json:"accounts"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse accounts: %v", err)), nil
	}
	if len(resp.Accounts) == 0 {
		return mcp.NewToolResultText("No unlocked accounts."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d unlocked account(s):\n\n", len(resp.Accounts))
	for i, a := range resp.Accounts {
		fmt.Fprintf(&sb, "(%d) %s  %s ETH\n", i, a.Address, formatEther(a.Balance))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBalance shows one account.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, errResult := requireAddress(req, "address")
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.GetAccount(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	var resp struct {
		Account accountInfo `json:"account"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse account: %v", err)), nil
	}

	a := resp.Account
	var sb strings.Builder
	fmt.Fprintf(&sb, "Account %s\n", a.Address)
	fmt.Fprintf(&sb, "  Balance: %s ETH (%s wei)\n", formatEther(a.Balance), a.Balance)
	fmt.Fprintf(&sb, "  Nonce:   %d\n", a.Nonce)
	if a.Code != "" {
		fmt.Fprintf(&sb, "  Code:    %s\n", a.Code)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDeployEscrow deploys a plain escrow.
func (h *Handlers) HandleDeployEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, errResult := h.sender(req)
	if errResult != nil {
		return errResult, nil
	}
	buyer, errResult := requireAddress(req, "buyer")
	if errResult != nil {
		return errResult, nil
	}
	seller, errResult := requireAddress(req, "seller")
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.DeployEscrow(ctx, from, buyer, seller)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deploy failed: %v", err)), nil
	}
	return escrowResult("Escrow deployed", raw)
}

// HandleCreateEscrowProxy deploys an upgradeable escrow.
func (h *Handlers) HandleCreateEscrowProxy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, errResult := h.sender(req)
	if errResult != nil {
		return errResult, nil
	}
	buyer, errResult := requireAddress(req, "buyer")
	if errResult != nil {
		return errResult, nil
	}
	seller, errResult := requireAddress(req, "seller")
	if errResult != nil {
		return errResult, nil
	}
	version := req.GetString("version", "v0")

	raw, err := h.client.CreateEscrowProxy(ctx, from, version, buyer, seller)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Proxy creation failed: %v", err)), nil
	}
	return escrowResult("Upgradeable escrow created", raw)
}

// HandleUpgradeEscrow swaps the logic behind a proxied escrow.
func (h *Handlers) HandleUpgradeEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrow, errResult := requireAddress(req, "escrow")
	if errResult != nil {
		return errResult, nil
	}
	from, errResult := h.sender(req)
	if errResult != nil {
		return errResult, nil
	}
	version := req.GetString("version", "")
	if version == "" {
		return mcp.NewToolResultError("version is required"), nil
	}

	raw, err := h.client.UpgradeEscrow(ctx, escrow, from, version)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Upgrade failed: %v", err)), nil
	}
	return escrowResult("Escrow upgraded to "+version, raw)
}

// HandleDeposit funds an escrow.
func (h *Handlers) HandleDeposit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrow, errResult := requireAddress(req, "escrow")
	if errResult != nil {
		return errResult, nil
	}
	from, errResult := h.sender(req)
	if errResult != nil {
		return errResult, nil
	}
	value := req.GetString("value", "")
	if value == "" {
		return mcp.NewToolResultError("value is required"), nil
	}

	raw, err := h.client.Deposit(ctx, escrow, from, value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deposit failed: %v", err)), nil
	}
	return escrowResult(fmt.Sprintf("Deposited %s ETH", formatEther(value)), raw)
}

// HandleConfirmDelivery releases funds to the seller.
func (h *Handlers) HandleConfirmDelivery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.action(ctx, req, "Delivery confirmed, funds released to seller", h.client.ConfirmDelivery)
}

// HandleEjectFunds refunds the buyer.
func (h *Handlers) HandleEjectFunds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.action(ctx, req, "Funds ejected back to buyer", h.client.EjectFunds)
}

// HandleGetEscrow shows an escrow.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrow, errResult := requireAddress(req, "escrow")
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.GetEscrow(ctx, escrow)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}
	return escrowResult("Escrow", raw)
}

func (h *Handlers) action(ctx context.Context, req mcp.CallToolRequest, title string,
	call func(ctx context.Context, address, from string) (json.RawMessage, error)) (*mcp.CallToolResult, error) {
	escrow, errResult := requireAddress(req, "escrow")
	if errResult != nil {
		return errResult, nil
	}
	from, errResult := h.sender(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := call(ctx, escrow, from)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", strings.SplitN(title, ",", 2)[0], err)), nil
	}
	return escrowResult(title, raw)
}

func (h *Handlers) sender(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	from := req.GetString("from", h.from)
	if from == "" {
		return "", mcp.NewToolResultError("from is required (no default account configured)")
	}
	if !common.IsHexAddress(from) {
		return "", mcp.NewToolResultError("from must be a 0x address")
	}
	return from, nil
}

func requireAddress(req mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	v := req.GetString(key, "")
	if v == "" {
		return "", mcp.NewToolResultError(key + " is required")
	}
	if !common.IsHexAddress(v) {
		return "", mcp.NewToolResultError(key + " must be a 0x address")
	}
	return v, nil
}

// --- Formatting helpers ---

type accountInfo struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Code    string `json:"code"`
}

type escrowInfo struct {
	Address        string `json:"address"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	Paid           bool   `json:"paid"`
	Stage          string `json:"stage"`
	Balance        string `json:"balance"`
	Version        string `json:"version"`
	Implementation string `json:"implementation"`
}

type receiptInfo struct {
	TxHash  string `json:"txHash"`
	GasUsed uint64 `json:"gasUsed"`
	Fee     string `json:"fee"`
}

func escrowResult(title string, raw json.RawMessage) (*mcp.CallToolResult, error) {
	text, err := formatEscrow(title, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func formatEscrow(title string, raw json.RawMessage) (string, error) {
	var resp struct {
		Escrow  *escrowInfo  `json:"escrow"`
		Receipt *receiptInfo `json:"receipt"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Escrow == nil {
		return "", fmt.Errorf("no escrow in response: %s", string(raw))
	}

	e := resp.Escrow
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", title)
	fmt.Fprintf(&sb, "  Address: %s\n", e.Address)
	fmt.Fprintf(&sb, "  Buyer:   %s\n", e.Buyer)
	fmt.Fprintf(&sb, "  Seller:  %s\n", e.Seller)
	fmt.Fprintf(&sb, "  Stage:   %s\n", e.Stage)
	fmt.Fprintf(&sb, "  Balance: %s ETH\n", formatEther(e.Balance))
	fmt.Fprintf(&sb, "  Version: %s\n", e.Version)
	if e.Implementation != "" {
		fmt.Fprintf(&sb, "  Logic:   %s\n", e.Implementation)
	}
	if r := resp.Receipt; r != nil && r.TxHash != "" {
		fmt.Fprintf(&sb, "  Tx:      %s (gas %d, fee %s ETH)\n", r.TxHash, r.GasUsed, formatEther(r.Fee))
	}
	return sb.String(), nil
}

// formatEther renders a decimal wei string in ether, trimming trailing
// zeros. Unparseable or negative input is returned as is.
func formatEther(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok || v.Sign() < 0 {
		return wei
	}
	q, r := new(big.Int).QuoRem(v, big.NewInt(params.Ether), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", 18-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}
