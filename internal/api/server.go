package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ParaWallet-Chain/internal/agent"
	"ParaWallet-Chain/internal/auth"
	"ParaWallet-Chain/internal/custody"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/observability/metrics"
	"ParaWallet-Chain/internal/web3"
	"ParaWallet-Chain/pkg/logger"
)

// RequestIDHeader 用于在请求与日志之间关联。
const RequestIDHeader = "X-Request-ID"

// IdempotencyKeyHeader 携带交易提交的幂等键。
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口，供外部调用钱包能力。
type Server struct {
	addr string
	svc  *agent.Service
	auth *auth.Service
	log  *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAuth 为 /api 路由启用身份认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *agent.Service, opts ...Option) *Server {
	s := &Server{addr: addr, svc: svc, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())

	s.route(mux, "POST /api/v1/wallets", "create_wallet", auth.PermWalletWrite, s.handleCreateWallet)
	s.route(mux, "GET /api/v1/wallets", "list_wallets", auth.PermWalletRead, s.handleListWallets)
	s.route(mux, "POST /api/v1/wallets/pregen", "create_pregen_wallet", auth.PermWalletWrite, s.handleCreatePregenWallet)
	s.route(mux, "GET /api/v1/wallets/summary", "wallet_summary", auth.PermWalletRead, s.handleWalletSummary)
	s.route(mux, "POST /api/v1/messages/sign", "sign_message", auth.PermSign, s.handleSignMessage)
	s.route(mux, "POST /api/v1/transactions", "sign_transaction", auth.PermSign, s.handleSignTransaction)
	s.route(mux, "POST /api/v1/actions/{name}", "action", auth.PermSign, s.handleAction)
	s.route(mux, "GET /api/v1/status", "status", auth.PermWalletRead, s.handleStatus)
	s.route(mux, "GET /api/v1/activity", "activity", auth.PermWalletRead, s.handleActivity)
	return s.withRequestID(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, name, perm string, handler http.HandlerFunc) {
	var h http.Handler = handler
	if s.auth != nil {
		h = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{"*": {perm}},
			AuditEvent:          name,
		})(h)
	}
	mux.Handle(pattern, s.instrument(name, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"initialized": s.svc.Initialized(),
	})
}

type createWalletRequest struct {
	Type custody.WalletKind `json:"type"`
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	created, err := s.svc.CreateWallet(r.Context(), req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.svc.ListWallets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

func (s *Server) handleCreatePregenWallet(w http.ResponseWriter, r *http.Request) {
	var req custody.PregenIdentifier
	if !s.decode(w, r, &req, false) {
		return
	}
	result, err := s.svc.CreatePregenWallet(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Server) handleWalletSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(agent.WalletProvider(r.Context(), s.svc)))
}

type signMessageRequest struct {
	WalletID string `json:"walletId"`
	Message  string `json:"message"`
}

func (s *Server) handleSignMessage(w http.ResponseWriter, r *http.Request) {
	var req signMessageRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	signature, err := s.svc.SignMessage(r.Context(), req.WalletID, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": signature})
}

// flexibleString 同时接受 JSON 字符串与数字。
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*f = flexibleString(strings.TrimSpace(text))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = flexibleString(number.String())
	return nil
}

type signTransactionRequest struct {
	WalletID    string               `json:"walletId"`
	ChainID     flexibleString       `json:"chainId"`
	Transaction *web3.RawTransaction `json:"transaction"`
}

func (s *Server) handleSignTransaction(w http.ResponseWriter, r *http.Request) {
	var req signTransactionRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.WalletID) == "" || req.ChainID == "" || req.Transaction == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "walletId, transaction and chainId are required"))
		return
	}
	tx, err := web3.ClassifyTransaction(*req.Transaction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var opts []agent.CallOption
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		opts = append(opts, agent.WithIdempotencyKey(key))
	}
	result, err := s.svc.SignTransaction(r.Context(), req.WalletID, tx, string(req.ChainID), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action, ok := agent.FindAction(r.PathValue("name"))
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "unknown action "+r.PathValue("name")))
		return
	}
	if !action.Validate(s.svc) {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotInitialized, ""))
		return
	}
	content := agent.Content{}
	if !s.decode(w, r, &content, true) {
		return
	}
	result := action.Handle(r.Context(), s.svc, content)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.svc.Activity(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": records})
}

// decode 解析请求体。allowEmpty 为 true 时空请求体视为零值。
func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any, allowEmpty bool) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid request body"))
		return false
	}
	return true
}

// ErrorBody 是错误响应的载荷。
type ErrorBody struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := StatusFor(code)
	body := ErrorBody{
		Code:      code,
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
		RequestID: w.Header().Get(RequestIDHeader),
	}
	if e, ok := xerrors.From(err); ok {
		body.Metadata = e.Metadata()
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.Log(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.String("code", string(code)),
		slog.String("request_id", body.RequestID),
		slog.Any("error", err))
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

// StatusFor 将错误码映射为 HTTP 状态码。
func StatusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeWalletNotFound:
		return http.StatusNotFound
	case xerrors.CodeNotInitialized, xerrors.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeWalletOperation, xerrors.CodeSigningFailed, xerrors.CodeTransactionSigning:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 捕获响应状态码用于指标。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
