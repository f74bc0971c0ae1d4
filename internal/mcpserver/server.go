package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all escrow tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("smarterescrow", "0.1.0")
	h := NewHandlers(NewNodeClient(cfg), cfg.From)

	s.AddTool(ToolListAccounts, h.HandleListAccounts)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolDeployEscrow, h.HandleDeployEscrow)
	s.AddTool(ToolCreateEscrowProxy, h.HandleCreateEscrowProxy)
	s.AddTool(ToolUpgradeEscrow, h.HandleUpgradeEscrow)
	s.AddTool(ToolDeposit, h.HandleDeposit)
	s.AddTool(ToolConfirmDelivery, h.HandleConfirmDelivery)
	s.AddTool(ToolEjectFunds, h.HandleEjectFunds)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)

	return s
}
