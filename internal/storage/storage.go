// Package storage declares the persistence contracts of the wallet daemon
// and the in-process implementations used when no external store is
// configured. MySQL and Redis backends live in sub-packages.
package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityKind 标识一条活动记录的类型。
type ActivityKind string

const (
	ActivityWalletCreated        ActivityKind = "wallet.created"
	ActivityPregenWallet         ActivityKind = "wallet.pregen"
	ActivityMessageSigned        ActivityKind = "message.signed"
	ActivityTransactionSubmitted ActivityKind = "transaction.submitted"
	ActivityTransactionConfirmed ActivityKind = "transaction.confirmed"
	ActivityTransactionFailed    ActivityKind = "transaction.failed"
)

// ActivityRecord 是一次钱包操作的审计记录。
type ActivityRecord struct {
	ID        string       `json:"id"`
	Kind      ActivityKind `json:"kind"`
	WalletID  string       `json:"walletId,omitempty"`
	ChainID   string       `json:"chainId,omitempty"`
	TxHash    string       `json:"txHash,omitempty"`
	Status    string       `json:"status,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt int64        `json:"createdAt"`
}

// NewActivity 生成带 id 与时间戳的记录。
func NewActivity(kind ActivityKind, walletID string) ActivityRecord {
	return ActivityRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		WalletID:  walletID,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// ActivityRepository 抽象活动日志的持久化接口。
type ActivityRepository interface {
	Save(ctx context.Context, record ActivityRecord) error
	// ListLatest 按时间倒序返回最多 limit 条记录。
	ListLatest(ctx context.Context, limit int) ([]ActivityRecord, error)
	Close() error
}

// Submission 记录幂等键对应的已广播交易。
type Submission struct {
	WalletID string `json:"walletId"`
	ChainID  string `json:"chainId"`
	TxHash   string `json:"txHash"`
	// Digest 为请求内容摘要，用于拒绝内容不同的重放。
	Digest string `json:"digest,omitempty"`
}

// SubmissionGuard 将调用方提供的幂等键映射到已提交的交易哈希。
type SubmissionGuard interface {
	// Lookup 返回幂等键已记录的交易。
	Lookup(ctx context.Context, key string) (Submission, bool, error)
	// Record 仅在键不存在时写入，返回是否写入成功。
	Record(ctx context.Context, key string, sub Submission) (bool, error)
	Close() error
}

// DefaultSubmissionTTL 是幂等键的默认保留时间。
const DefaultSubmissionTTL = 24 * time.Hour

type guardEntry struct {
	sub     Submission
	expires time.Time
}

// MemorySubmissionGuard 在进程内保存幂等键，重启后失效。
type MemorySubmissionGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]guardEntry
}

// NewMemorySubmissionGuard 创建进程内幂等表。
func NewMemorySubmissionGuard(ttl time.Duration) *MemorySubmissionGuard {
	if ttl <= 0 {
		ttl = DefaultSubmissionTTL
	}
	return &MemorySubmissionGuard{ttl: ttl, now: time.Now, entries: make(map[string]guardEntry)}
}

func (g *MemorySubmissionGuard) Lookup(_ context.Context, key string) (Submission, bool, error) {
	key = strings.TrimSpace(key)
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[key]
	if !ok {
		return Submission{}, false, nil
	}
	if g.now().After(entry.expires) {
		delete(g.entries, key)
		return Submission{}, false, nil
	}
	return entry.sub, true, nil
}

func (g *MemorySubmissionGuard) Record(_ context.Context, key string, sub Submission) (bool, error) {
	key = strings.TrimSpace(key)
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if entry, ok := g.entries[key]; ok && now.Before(entry.expires) {
		return false, nil
	}
	g.entries[key] = guardEntry{sub: sub, expires: now.Add(g.ttl)}
	return true, nil
}

func (g *MemorySubmissionGuard) Close() error { return nil }
