package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ParaWallet-Chain/pkg/logger"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	tokens []tokenEntry
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		if len(cfg.Tokens) == 0 {
			return nil, errors.New("token mode requires at least one token")
		}
		for i, tok := range cfg.Tokens {
			secret := strings.TrimSpace(tok.Token)
			if secret == "" {
				return nil, fmt.Errorf("token %d (%s) is empty", i, tok.Name)
			}
			name := strings.TrimSpace(tok.Name)
			if name == "" {
				name = fmt.Sprintf("token-%d", i)
			}
			entry := tokenEntry{
				digest: sha256.Sum256([]byte(secret)),
				subject: Subject{
					Name:        name,
					Permissions: append([]string(nil), tok.Permissions...),
					Disabled:    tok.Disabled,
				},
			}
			entry.subject.normalise()
			svc.tokens = append(svc.tokens, entry)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}

	// 比较摘要，遍历全部条目。
	digest := sha256.Sum256([]byte(token))
	var match *tokenEntry
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], s.tokens[i].digest[:]) == 1 {
			match = &s.tokens[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	if match.subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject := match.subject
	subject.Permissions = append([]string(nil), match.subject.Permissions...)
	subject.permissionsSet = nil
	subject.normalise()
	return &subject, nil
}
