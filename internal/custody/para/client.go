package para

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ParaWallet-Chain/internal/custody"
)

const (
	productionBaseURL  = "https://api.getpara.com"
	developmentBaseURL = "https://api.beta.getpara.com"
	defaultTimeout     = 30 * time.Second
	apiKeyHeader       = "X-API-Key"
)

// Config 描述了访问 Para 托管服务所需的连接参数。
type Config struct {
	// BaseURL 为空时根据环境选择官方地址。
	BaseURL string
	Timeout time.Duration
	// HTTPClient 允许测试注入自定义客户端。
	HTTPClient *http.Client
	// SkipProbe 为 true 时建立会话不做连通性探测。
	SkipProbe bool
}

// Client 通过 HTTP 调用 Para 托管服务，实现 custody.Backend。
type Client struct {
	apiKey      string
	environment custody.Environment
	baseURL     string
	httpClient  *http.Client
}

// APIError 表示托管服务返回的非成功响应。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("para api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("para api error (%d): %s", e.StatusCode, e.Message)
}

// Rejected 报告托管服务是否拒绝了请求本身（如 API Key 无效），
// 此类错误重试无意义。超时与限流不算拒绝。
func (e *APIError) Rejected() bool {
	if e == nil {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// NewClient 根据凭证与配置创建客户端，不发起网络请求。
func NewClient(creds custody.Credentials, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(creds.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Para API Key")
	}
	env, err := custody.ParseEnvironment(string(creds.Environment))
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = productionBaseURL
		if env == custody.EnvDevelopment {
			baseURL = developmentBaseURL
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:      apiKey,
		environment: env,
		baseURL:     baseURL,
		httpClient:  httpClient,
	}, nil
}

// Connector 返回一个会话建立函数：创建客户端并探测托管服务是否可达。
func Connector(cfg Config) func(ctx context.Context, creds custody.Credentials) (custody.Backend, error) {
	return func(ctx context.Context, creds custody.Credentials) (custody.Backend, error) {
		client, err := NewClient(creds, cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.SkipProbe {
			if err := client.Ping(ctx); err != nil {
				return nil, err
			}
		}
		return client, nil
	}
}

// Environment 返回客户端绑定的环境。
func (c *Client) Environment() custody.Environment {
	return c.environment
}

// Ping 校验 API Key 并确认托管服务可达。
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/session", nil, nil)
}

// CloseIdleConnections 释放空闲的 HTTP 连接。
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// CreateWallet 创建指定类型的钱包。
func (c *Client) CreateWallet(ctx context.Context, kind custody.WalletKind) (custody.Wallet, error) {
	var wallet custody.Wallet
	body := map[string]any{"type": custody.NormalizeKind(kind)}
	if err := c.do(ctx, http.MethodPost, "/v1/wallets", body, &wallet); err != nil {
		return custody.Wallet{}, err
	}
	return wallet, nil
}

// ListWallets 返回当前会话可见的全部钱包。
func (c *Client) ListWallets(ctx context.Context) (map[string]custody.Wallet, error) {
	var decoded struct {
		Wallets []custody.Wallet `json:"wallets"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/wallets", nil, &decoded); err != nil {
		return nil, err
	}
	wallets := make(map[string]custody.Wallet, len(decoded.Wallets))
	for _, w := range decoded.Wallets {
		wallets[w.ID] = w
	}
	return wallets, nil
}

// SignRaw 请求托管服务对 base64 编码的数据签名。
func (c *Client) SignRaw(ctx context.Context, walletID, dataBase64 string) (string, error) {
	var decoded struct {
		Signature string `json:"signature"`
	}
	endpoint := "/v1/wallets/" + url.PathEscape(walletID) + "/sign-raw"
	if err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"data": dataBase64}, &decoded); err != nil {
		return "", err
	}
	if strings.TrimSpace(decoded.Signature) == "" {
		return "", errors.New("Para 响应中缺少签名")
	}
	return decoded.Signature, nil
}

// HasPregenWallet 查询标识是否已绑定预生成钱包。
func (c *Client) HasPregenWallet(ctx context.Context, id custody.PregenIdentifier) (bool, error) {
	var decoded struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/pregen-wallets/exists?"+pregenQuery(id), nil, &decoded); err != nil {
		return false, err
	}
	return decoded.Exists, nil
}

// PregenWallets 返回标识绑定的预生成钱包。
func (c *Client) PregenWallets(ctx context.Context, id custody.PregenIdentifier) ([]custody.Wallet, error) {
	var decoded struct {
		Wallets []custody.Wallet `json:"wallets"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/pregen-wallets?"+pregenQuery(id), nil, &decoded); err != nil {
		return nil, err
	}
	return decoded.Wallets, nil
}

// CreatePregenWallet 为标识创建预生成钱包。
func (c *Client) CreatePregenWallet(ctx context.Context, kind custody.WalletKind, id custody.PregenIdentifier) (custody.Wallet, error) {
	body := map[string]any{
		"type":                 custody.NormalizeKind(kind),
		"pregenIdentifier":     id.Identifier,
		"pregenIdentifierType": id.Type,
	}
	var wallet custody.Wallet
	if err := c.do(ctx, http.MethodPost, "/v1/pregen-wallets", body, &wallet); err != nil {
		return custody.Wallet{}, err
	}
	return wallet, nil
}

// UserShare 取回预生成钱包的一次性恢复分片。
func (c *Client) UserShare(ctx context.Context, walletID string) (string, error) {
	var decoded struct {
		UserShare string `json:"userShare"`
	}
	endpoint := "/v1/pregen-wallets/" + url.PathEscape(walletID) + "/user-share"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &decoded); err != nil {
		return "", err
	}
	return decoded.UserShare, nil
}

func pregenQuery(id custody.PregenIdentifier) string {
	values := url.Values{}
	values.Set("pregenIdentifier", id.Identifier)
	values.Set("pregenIdentifierType", string(id.Type))
	return values.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化 Para 请求失败: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("构建 Para 请求失败: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 Para 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 Para 响应失败: %w", err)
	}
	return nil
}

var _ custody.Backend = (*Client)(nil)
