package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the escrow MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

func withFrom() mcp.ToolOption {
	return mcp.WithString("from",
		mcp.Description("Sending account (0x address). Defaults to the server's configured account."))
}

func withEscrow() mcp.ToolOption {
	return mcp.WithString("escrow",
		mcp.Required(),
		mcp.Description("Escrow contract address (0x...)"))
}

var ToolListAccounts = mcp.NewTool("list_accounts",
	mcp.WithDescription(
		"List the node's unlocked development accounts with their balances in wei and ether. "+
			"Any of these can act as owner, buyer or seller."),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check the balance, nonce and contract code of any address, including escrow contracts."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Address to inspect (0x...)")),
)

var ToolDeployEscrow = mcp.NewTool("deploy_escrow",
	mcp.WithDescription(
		"Deploy a plain escrow between a buyer and a seller. "+
			"Plain escrows can never be upgraded, so the seller can never eject funds."),
	withFrom(),
	mcp.WithString("buyer", mcp.Required(), mcp.Description("Buyer address (0x...)")),
	mcp.WithString("seller", mcp.Required(), mcp.Description("Seller address (0x...)")),
)

var ToolCreateEscrowProxy = mcp.NewTool("create_escrow_proxy",
	mcp.WithDescription(
		"Deploy an upgradeable escrow behind a transparent proxy. "+
			"The sender becomes the only account allowed to upgrade it."),
	withFrom(),
	mcp.WithString("buyer", mcp.Required(), mcp.Description("Buyer address (0x...)")),
	mcp.WithString("seller", mcp.Required(), mcp.Description("Seller address (0x...)")),
	mcp.WithString("version",
		mcp.Description("Logic version to start with: 'v0' (deposit and confirm only) or 'v1' (adds seller refunds). Default v0."),
		mcp.Enum("v0", "v1")),
)

var ToolUpgradeEscrow = mcp.NewTool("upgrade_escrow",
	mcp.WithDescription(
		"Upgrade a proxied escrow to a new logic version. "+
			"Address, parties, paid flag and balance are kept. Only the account that created the proxy may upgrade."),
	withEscrow(),
	withFrom(),
	mcp.WithString("version",
		mcp.Required(),
		mcp.Description("Target logic version"),
		mcp.Enum("v0", "v1")),
)

var ToolDeposit = mcp.NewTool("deposit",
	mcp.WithDescription(
		"Buyer deposits funds into an escrow. Only the buyer may deposit, only once, and the amount must be positive."),
	withEscrow(),
	withFrom(),
	mcp.WithString("value",
		mcp.Required(),
		mcp.Description("Amount in wei as a decimal string (1 ether = 1000000000000000000)")),
)

var ToolConfirmDelivery = mcp.NewTool("confirm_delivery",
	mcp.WithDescription(
		"Buyer confirms delivery, releasing the full escrow balance to the seller."),
	withEscrow(),
	withFrom(),
)

var ToolEjectFunds = mcp.NewTool("eject_funds",
	mcp.WithDescription(
		"Seller refunds the full escrow balance to the buyer. "+
			"Only available once the escrow runs logic v1; fails with method_not_found before the upgrade."),
	withEscrow(),
	withFrom(),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Show an escrow's buyer, seller, stage, balance and logic version."),
	withEscrow(),
)
