// Package session owns the single authenticated connection to the custody
// backend. Every wallet, signing and dispatch operation reads the backend
// handle from a Manager instead of touching package-level state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"ParaWallet-Chain/internal/custody"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/pkg/logger"
)

// Connector establishes an authenticated backend session.
type Connector func(ctx context.Context, creds custody.Credentials) (custody.Backend, error)

type state struct {
	backend     custody.Backend
	environment custody.Environment
}

// Manager memoizes one session. The first successful Initialize wins.
type Manager struct {
	connect Connector
	mu      sync.Mutex
	current atomic.Pointer[state]
	log     *slog.Logger
}

// NewManager 创建会话管理器，connector 负责真正建立托管服务会话。
func NewManager(connect Connector) *Manager {
	return &Manager{connect: connect, log: logger.Named("session")}
}

// Initialize 校验凭证并建立会话；已初始化时直接返回。
func (m *Manager) Initialize(ctx context.Context, creds custody.Credentials) error {
	if m.current.Load() != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Load() != nil {
		return nil
	}

	if strings.TrimSpace(creds.APIKey) == "" {
		return xerrors.New(xerrors.CodeConfigurationInvalid, "PARA_API_KEY is required")
	}
	env, err := custody.ParseEnvironment(string(creds.Environment))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfigurationInvalid, err, "PARA_ENV is invalid")
	}
	if m.connect == nil {
		return xerrors.New(xerrors.CodeConfigurationInvalid, "custody connector not configured")
	}

	creds.Environment = env
	backend, err := m.connect(ctx, creds)
	if err != nil {
		wrapped := unavailable(err)
		level := slog.LevelWarn
		if wrapped.Severity() == xerrors.SeverityCritical {
			level = slog.LevelError
		}
		m.log.Log(ctx, level, "custody session failed",
			slog.String("environment", string(env)),
			slog.String("api_key", logger.Redact(creds.APIKey)),
			slog.Bool("retryable", wrapped.Retryable()),
			slog.Any("error", err))
		return wrapped
	}
	if backend == nil {
		return xerrors.New(xerrors.CodeBackendUnavailable, "custody connector returned no backend")
	}

	m.current.Store(&state{backend: backend, environment: env})
	m.log.Info("custody session established", slog.String("environment", string(env)))
	return nil
}

// unavailable 包装建立会话的失败。被托管服务明确拒绝的请求不可重试，
// 网络故障与服务端错误则只是暂时不可用。
func unavailable(err error) *xerrors.Error {
	var rejection interface{ Rejected() bool }
	if errors.As(err, &rejection) && rejection.Rejected() {
		return xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "custody backend rejected the session",
			xerrors.WithRetryable(false),
			xerrors.WithSeverity(xerrors.SeverityCritical))
	}
	return xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "", xerrors.WithSeverity(xerrors.SeverityWarning))
}

// Backend 返回已建立会话的后端句柄，未初始化时返回 NOT_INITIALIZED。
func (m *Manager) Backend() (custody.Backend, error) {
	if m == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "")
	}
	st := m.current.Load()
	if st == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "")
	}
	return st.backend, nil
}

// Initialized 报告会话是否已经建立。
func (m *Manager) Initialized() bool {
	return m != nil && m.current.Load() != nil
}

// Environment 返回会话所在环境，未初始化时为空。
func (m *Manager) Environment() custody.Environment {
	if m == nil {
		return ""
	}
	if st := m.current.Load(); st != nil {
		return st.environment
	}
	return ""
}

// Close 释放后端持有的空闲连接。会话本身保持有效直到进程退出。
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	st := m.current.Load()
	if st == nil {
		return nil
	}
	var errs []error
	if closer, ok := st.backend.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	if closer, ok := st.backend.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
