package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the configuration for connecting to an escrow node.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	From   string // Default sender, one of the node's unlocked accounts
}

// NodeClient is a pure HTTP client for the node API.
type NodeClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewNodeClient creates a new client for the node at cfg.APIURL.
func NewNodeClient(cfg Config) *NodeClient {
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return &NodeClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the node.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the node and returns the response body.
func (c *NodeClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListAccounts returns the node's unlocked accounts with balances.
func (c *NodeClient) ListAccounts(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil)
}

// GetAccount returns balance, nonce and code of one address.
func (c *NodeClient) GetAccount(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(address), nil)
}

// DeployEscrow deploys a plain, non-upgradeable escrow.
func (c *NodeClient) DeployEscrow(ctx context.Context, from, buyer, seller string) (json.RawMessage, error) {
	body := map[string]string{"from": from, "buyer": buyer, "seller": seller}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", body)
}

// CreateEscrowProxy deploys an upgradeable escrow at the given logic version.
func (c *NodeClient) CreateEscrowProxy(ctx context.Context, from, version, buyer, seller string) (json.RawMessage, error) {
	body := map[string]string{"from": from, "version": version, "buyer": buyer, "seller": seller}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/proxy", body)
}

// UpgradeEscrow points a proxied escrow at a new logic version.
func (c *NodeClient) UpgradeEscrow(ctx context.Context, address, from, version string) (json.RawMessage, error) {
	body := map[string]string{"from": from, "version": version}
	return c.doRequest(ctx, http.MethodPost, escrowPath(address, "upgrade"), body)
}

// Deposit funds an escrow with value wei from the buyer.
func (c *NodeClient) Deposit(ctx context.Context, address, from, value string) (json.RawMessage, error) {
	body := map[string]string{"from": from, "value": value}
	return c.doRequest(ctx, http.MethodPost, escrowPath(address, "deposit"), body)
}

// ConfirmDelivery releases the escrow balance to the seller.
func (c *NodeClient) ConfirmDelivery(ctx context.Context, address, from string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, escrowPath(address, "confirm"), map[string]string{"from": from})
}

// EjectFunds refunds the buyer; only upgraded escrows support it.
func (c *NodeClient) EjectFunds(ctx context.Context, address, from string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, escrowPath(address, "eject"), map[string]string{"from": from})
}

// GetEscrow returns the escrow's parties, stage, balance and version.
func (c *NodeClient) GetEscrow(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, escrowPath(address, ""), nil)
}

func escrowPath(address, action string) string {
	p := "/v1/escrows/" + url.PathEscape(address)
	if action != "" {
		p += "/" + action
	}
	return p
}
