package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code 表示钱包服务内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotInitialized       Code = "NOT_INITIALIZED"
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID"
	CodeBackendUnavailable   Code = "BACKEND_UNAVAILABLE"
	CodeWalletNotFound       Code = "WALLET_NOT_FOUND"
	CodeWalletOperation      Code = "WALLET_OPERATION_FAILED"
	CodeSigningFailed        Code = "SIGNING_FAILED"
	CodeTransactionSigning   Code = "TRANSACTION_SIGNING_FAILED"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
	CodePublishFailure       Code = "PUBLISH_FAILURE"
)

// 元数据中常用的键。
const (
	MetaWalletID = "wallet_id"
	MetaChainID  = "chain_id"
	MetaTxHash   = "tx_hash"
	MetaKind     = "wallet_kind"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeNotInitialized: {
			Message:   "wallet service not initialized",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeConfigurationInvalid: {
			Message:  "wallet service configuration invalid",
			Severity: SeverityCritical,
		},
		CodeBackendUnavailable: {
			Message:   "custody backend unavailable",
			Severity:  SeverityCritical,
			Retryable: true,
		},
		CodeWalletNotFound: {
			Message:  "wallet not found",
			Severity: SeverityInfo,
		},
		CodeWalletOperation: {
			Message:   "wallet operation failed",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeSigningFailed: {
			Message:   "message signing failed",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeTransactionSigning: {
			Message:   "transaction signing failed",
			Severity:  SeverityCritical,
			Retryable: true,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Retryable: true,
		},
		CodePublishFailure: {
			Message:   "event publish failure",
			Severity:  SeverityWarning,
			Retryable: true,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，空值会被忽略。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithWallet 是 WithMetadata(MetaWalletID, id) 的简写。
func WithWallet(id string) Option {
	return WithMetadata(MetaWalletID, id)
}

// WithChain 是 WithMetadata(MetaChainID, id) 的简写。
func WithChain(id string) Option {
	return WithMetadata(MetaChainID, id)
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口，元数据按键排序输出。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("[%s] %s", e.code, e.message))
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+e.metadata[k])
		}
		builder.WriteString(" (" + strings.Join(pairs, ", ") + ")")
	}
	if e.cause != nil {
		builder.WriteString(": ")
		builder.WriteString(e.cause.Error())
	}
	return builder.String()
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中最外层的统一错误是否为指定错误码。
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
