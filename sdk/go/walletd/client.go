// Package walletd is a Go client for the wallet daemon's REST API.
package walletd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout applies to clients created without a custom
// http.Client. Transaction calls block until the receipt is mined, so pass
// a client with a longer timeout when submitting on slow chains.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the wallet daemon.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Wallet is a custody wallet.
type Wallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Type    string `json:"type"`
}

// PregenRequest identifies the end user of a pre-generated wallet. Type
// defaults to EMAIL on the server.
type PregenRequest struct {
	Identifier string `json:"pregenIdentifier"`
	Type       string `json:"pregenIdentifierType,omitempty"`
}

// PregenResult carries the wallet and, when it was just created, the user
// share that the caller must persist.
type PregenResult struct {
	Wallet    Wallet `json:"wallet"`
	UserShare string `json:"userShare,omitempty"`
	Created   bool   `json:"created"`
}

// Transaction is the loose transaction payload accepted by the daemon.
// Non-empty Data makes it a contract call.
type Transaction struct {
	To       string `json:"to"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
}

// Receipt is the normalized confirmation of a mined transaction.
type Receipt struct {
	Status      string `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	TxHash      string `json:"transactionHash"`
}

// TransactionResult pairs a hash with its receipt.
type TransactionResult struct {
	Hash    string  `json:"hash"`
	Receipt Receipt `json:"receipt"`
}

// ActionResult is the outcome of an agent action.
type ActionResult struct {
	Text    string         `json:"text"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Activity is one journal entry.
type Activity struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	WalletID  string `json:"walletId,omitempty"`
	ChainID   string `json:"chainId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Status    string `json:"status,omitempty"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Status summarizes the daemon's session.
type Status struct {
	Initialized bool             `json:"initialized"`
	Environment string           `json:"environment,omitempty"`
	Wallets     []Wallet         `json:"wallets"`
	Chains      []map[string]any `json:"chains"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletd api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetAccessToken sets the bearer token sent with every API call.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the stored token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// CreateWallet creates a wallet; an empty kind means EVM.
func (c *Client) CreateWallet(ctx context.Context, kind string) (Wallet, error) {
	var wallet Wallet
	err := c.send(ctx, http.MethodPost, "/api/v1/wallets", map[string]string{"type": kind}, &wallet, nil)
	return wallet, err
}

// ListWallets lists the session's wallets.
func (c *Client) ListWallets(ctx context.Context) ([]Wallet, error) {
	var out struct {
		Wallets []Wallet `json:"wallets"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/wallets", nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Wallets, nil
}

// CreatePregenWallet returns the pre-generated wallet bound to the
// identifier, creating it when absent.
func (c *Client) CreatePregenWallet(ctx context.Context, req PregenRequest) (PregenResult, error) {
	var result PregenResult
	err := c.send(ctx, http.MethodPost, "/api/v1/wallets/pregen", req, &result, nil)
	return result, err
}

// SignMessage signs message with the wallet.
func (c *Client) SignMessage(ctx context.Context, walletID, message string) (string, error) {
	var out struct {
		Signature string `json:"signature"`
	}
	body := map[string]string{"walletId": walletID, "message": message}
	if err := c.send(ctx, http.MethodPost, "/api/v1/messages/sign", body, &out, nil); err != nil {
		return "", err
	}
	return out.Signature, nil
}

// SignTransaction submits tx and waits for the receipt. A non-empty
// idempotencyKey makes retries return the first submission.
func (c *Client) SignTransaction(ctx context.Context, walletID, chainID string, tx Transaction, idempotencyKey string) (TransactionResult, error) {
	body := struct {
		WalletID    string      `json:"walletId"`
		ChainID     string      `json:"chainId"`
		Transaction Transaction `json:"transaction"`
	}{walletID, chainID, tx}

	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var result TransactionResult
	err := c.send(ctx, http.MethodPost, "/api/v1/transactions", body, &result, headers)
	return result, err
}

// RunAction invokes an agent action by name or simile.
func (c *Client) RunAction(ctx context.Context, name string, content map[string]any) (ActionResult, error) {
	if content == nil {
		content = map[string]any{}
	}
	var result ActionResult
	err := c.send(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(name), content, &result, nil)
	return result, err
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.send(ctx, http.MethodGet, "/api/v1/status", nil, &status, nil)
	return status, err
}

// Activity returns up to limit recent journal entries, newest first.
func (c *Client) Activity(ctx context.Context, limit int) ([]Activity, error) {
	endpoint := "/api/v1/activity"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Activity []Activity `json:"activity"`
	}
	if err := c.send(ctx, http.MethodGet, endpoint, nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Activity, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any, headers http.Header) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
