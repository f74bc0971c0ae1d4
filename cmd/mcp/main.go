// Command mcp exposes the escrow node as MCP tools over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/smarterescrow/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("SMARTERESCROW_API_URL", "http://localhost:8080"),
		From:   os.Getenv("SMARTERESCROW_FROM"),
	}

	if cfg.From != "" && !common.IsHexAddress(cfg.From) {
		fmt.Fprintln(os.Stderr, "SMARTERESCROW_FROM must be a 0x address")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
