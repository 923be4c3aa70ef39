// Package events publishes wallet lifecycle notifications to downstream
// consumers. Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件类型，同时作为 RabbitMQ 的 routing key。
type Type string

const (
	WalletCreated        Type = "wallet.created"
	MessageSigned        Type = "message.signed"
	TransactionConfirmed Type = "transaction.confirmed"
	TransactionFailed    Type = "transaction.failed"
)

// Event 是对外发布的事件载荷。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	WalletID   string            `json:"walletId,omitempty"`
	ChainID    string            `json:"chainId,omitempty"`
	TxHash     string            `json:"txHash,omitempty"`
	Status     string            `json:"status,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// New 生成带唯一 id 的事件。
func New(typ Type, walletID string) Event {
	return Event{ID: uuid.NewString(), Type: typ, WalletID: walletID, OccurredAt: time.Now().UTC()}
}

// Publisher 投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop 丢弃所有事件。
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// LogPublisher 将事件写入结构化日志。
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, event Event) error {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "wallet event",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("wallet_id", event.WalletID),
		slog.String("chain_id", event.ChainID),
		slog.String("tx_hash", event.TxHash),
		slog.String("status", event.Status))
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder 在内存中保存事件，供测试与调试使用。
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
