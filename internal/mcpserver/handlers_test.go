package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/smarterescrow/internal/config"
	"github.com/mbd888/smarterescrow/internal/server"
	"github.com/mbd888/smarterescrow/internal/state"
)

const oneEther = "1000000000000000000"

// --- Test helpers ---

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// field returns the value printed after "label:" in tool output.
func field(t *testing.T, text, label string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, label+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, label+":"))
		}
	}
	t.Fatalf("no %q line in:\n%s", label, text)
	return ""
}

type node struct {
	h        *Handlers
	accounts []string
}

// newNode starts a real in-memory node behind httptest and returns
// handlers talking to it, with accounts[0] as the default sender.
func newNode(t *testing.T) *node {
	t.Helper()
	cfg := &config.Config{
		Port:           "0",
		Env:            "development",
		LogLevel:       "error",
		LogFormat:      "text",
		ChainID:        config.DefaultChainID,
		GasPrice:       config.DefaultGasPrice,
		TxGasLimit:     config.DefaultTxGasLimit,
		DevSeed:        "mcp test",
		DevAccounts:    3,
		DevBalance:     config.DefaultDevBalance,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	srv, err := server.New(cfg, server.WithStore(state.NewMemoryStore()))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown()
	})

	client := NewNodeClient(Config{APIURL: ts.URL + "/"})
	raw, err := client.ListAccounts(context.Background())
	require.NoError(t, err)
	var resp struct {
		Accounts []accountInfo `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Accounts, 3)

	n := &node{}
	for _, a := range resp.Accounts {
		n.accounts = append(n.accounts, a.Address)
	}
	n.h = NewHandlers(client, n.accounts[0])
	return n
}

// ============================================================
// Client tests
// ============================================================

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "unauthorized",
			"message": "Only buyer can call this method",
		})
	}))
	defer ts.Close()

	client := NewNodeClient(Config{APIURL: ts.URL})
	_, err := client.Deposit(context.Background(), "0x1", "0x2", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 unauthorized")
	assert.Contains(t, err.Error(), "Only buyer can call this method")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewNodeClient(Config{APIURL: ts.URL})
	_, err := client.ListAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_RequestShape(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewNodeClient(Config{APIURL: ts.URL})
	_, err := client.UpgradeEscrow(context.Background(), "0xabc", "0xdef", "v1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/escrows/0xabc/upgrade", gotPath)
	assert.Equal(t, map[string]string{"from": "0xdef", "version": "v1"}, gotBody)
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewNodeClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Tool tests against a live node
// ============================================================

func TestTools_ListAccounts(t *testing.T) {
	n := newNode(t)

	result, err := n.h.HandleListAccounts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "3 unlocked account(s)")
	for _, a := range n.accounts {
		assert.Contains(t, text, a+"  100 ETH")
	}
}

func TestTools_UpgradeWorkflow(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	buyer, seller := n.accounts[1], n.accounts[2]

	result, err := n.h.HandleCreateEscrowProxy(ctx, makeRequest(map[string]any{
		"buyer": buyer, "seller": seller,
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	require.False(t, result.IsError, text)
	escrow := field(t, text, "Address")
	assert.Equal(t, "v0", field(t, text, "Version"))
	assert.Equal(t, "0 ETH", field(t, text, "Balance"))

	// Refunds do not exist before the upgrade.
	result, err = n.h.HandleEjectFunds(ctx, makeRequest(map[string]any{"escrow": escrow, "from": seller}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "method_not_found")

	result, err = n.h.HandleDeposit(ctx, makeRequest(map[string]any{
		"escrow": escrow, "from": buyer, "value": oneEther,
	}))
	require.NoError(t, err)
	text = resultText(t, result)
	require.False(t, result.IsError, text)
	assert.Contains(t, text, "Deposited 1 ETH")
	assert.Equal(t, "1 ETH", field(t, text, "Balance"))

	result, err = n.h.HandleUpgradeEscrow(ctx, makeRequest(map[string]any{"escrow": escrow, "version": "v1"}))
	require.NoError(t, err)
	text = resultText(t, result)
	require.False(t, result.IsError, text)
	assert.Equal(t, escrow, field(t, text, "Address"))
	assert.Equal(t, "v1", field(t, text, "Version"))
	assert.Equal(t, "1 ETH", field(t, text, "Balance"))

	result, err = n.h.HandleEjectFunds(ctx, makeRequest(map[string]any{"escrow": escrow, "from": buyer}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Only seller can call this method")

	result, err = n.h.HandleEjectFunds(ctx, makeRequest(map[string]any{"escrow": escrow, "from": seller}))
	require.NoError(t, err)
	text = resultText(t, result)
	require.False(t, result.IsError, text)
	assert.Equal(t, "0 ETH", field(t, text, "Balance"))

	result, err = n.h.HandleGetEscrow(ctx, makeRequest(map[string]any{"escrow": escrow}))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Equal(t, buyer, field(t, text, "Buyer"))
	assert.Equal(t, seller, field(t, text, "Seller"))
}

func TestTools_ReleaseWorkflow(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	buyer, seller := n.accounts[1], n.accounts[2]

	result, err := n.h.HandleDeployEscrow(ctx, makeRequest(map[string]any{"buyer": buyer, "seller": seller}))
	require.NoError(t, err)
	text := resultText(t, result)
	require.False(t, result.IsError, text)
	escrow := field(t, text, "Address")

	result, err = n.h.HandleDeposit(ctx, makeRequest(map[string]any{
		"escrow": escrow, "from": buyer, "value": oneEther,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = n.h.HandleConfirmDelivery(ctx, makeRequest(map[string]any{"escrow": escrow, "from": buyer}))
	require.NoError(t, err)
	text = resultText(t, result)
	require.False(t, result.IsError, text)
	assert.Contains(t, text, "funds released to seller")

	result, err = n.h.HandleCheckBalance(ctx, makeRequest(map[string]any{"address": seller}))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Equal(t, "101 ETH (101000000000000000000 wei)", field(t, text, "Balance"))
	assert.Equal(t, "0", field(t, text, "Nonce"))
}

func TestTools_ArgumentValidation(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	noDefault := NewHandlers(n.h.client, "")

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{"check_balance missing address", n.h.HandleCheckBalance, nil, "address is required"},
		{"check_balance bad address", n.h.HandleCheckBalance, map[string]any{"address": "nope"}, "address must be a 0x address"},
		{"deploy missing buyer", n.h.HandleDeployEscrow, map[string]any{"seller": n.accounts[2]}, "buyer is required"},
		{"deposit missing value", n.h.HandleDeposit, map[string]any{"escrow": n.accounts[1]}, "value is required"},
		{"upgrade missing version", n.h.HandleUpgradeEscrow, map[string]any{"escrow": n.accounts[1]}, "version is required"},
		{"confirm missing escrow", n.h.HandleConfirmDelivery, nil, "escrow is required"},
		{"no default sender", noDefault.HandleConfirmDelivery, map[string]any{"escrow": n.accounts[1]}, "from is required"},
		{"bad sender", n.h.HandleEjectFunds, map[string]any{"escrow": n.accounts[1], "from": "0x12"}, "from must be a 0x address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(ctx, makeRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestTools_NotAnEscrow(t *testing.T) {
	n := newNode(t)

	result, err := n.h.HandleGetEscrow(context.Background(), makeRequest(map[string]any{"escrow": n.accounts[1]}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "404")
}

// ============================================================
// Formatting
// ============================================================

func TestFormatEther(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0", "0"},
		{oneEther, "1"},
		{"1500000000000000000", "1.5"},
		{"21000000000000", "0.000021"},
		{"1", "0.000000000000000001"},
		{"100000000000000000000", "100"},
		{"not-a-number", "not-a-number"},
		{"-5", "-5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatEther(tt.in), tt.in)
	}
}

func TestFormatEscrow_MissingEscrow(t *testing.T) {
	_, err := formatEscrow("x", json.RawMessage(`{"receipt":{}}`))
	assert.Error(t, err)
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080"}))
}
