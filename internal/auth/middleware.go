package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ParaWallet-Chain/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个 HTTP 方法所需的权限列表，"*" 为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			audit := s.auditLogger()

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrSubjectRevoked) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				audit.Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("error", err.Error()))
				return
			}

			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if err := subject.Authorize(perms...); err != nil {
				status := http.StatusForbidden
				http.Error(w, http.StatusText(status), status)
				audit.Warn("permission_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("error", err.Error()),
					slog.String("subject", subject.Name))
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			audit.Info("api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("subject", subject.Name))
		})
	}
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return logger.Audit()
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
