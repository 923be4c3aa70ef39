package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/storage"
)

// SubmissionGuard 使用 SET NX 记录幂等键与交易哈希的映射，键在 TTL 后过期。
type SubmissionGuard struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewSubmissionGuard 连接 Redis 并创建幂等表。
func NewSubmissionGuard(ctx context.Context, cfg Config, ttl time.Duration) (*SubmissionGuard, error) {
	client, err := connect(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	if ttl <= 0 {
		ttl = storage.DefaultSubmissionTTL
	}
	return &SubmissionGuard{client: client, prefix: cfg.prefix() + ":submission:", ttl: ttl}, nil
}

func (g *SubmissionGuard) key(k string) string {
	return g.prefix + strings.TrimSpace(k)
}

// Lookup 查询幂等键对应的交易。
func (g *SubmissionGuard) Lookup(ctx context.Context, key string) (storage.Submission, bool, error) {
	value, err := g.client.Get(ctx, g.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return storage.Submission{}, false, nil
	}
	if err != nil {
		return storage.Submission{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取幂等键失败")
	}
	var sub storage.Submission
	if err := json.Unmarshal([]byte(value), &sub); err != nil {
		return storage.Submission{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析幂等记录失败")
	}
	return sub, true, nil
}

// Record 在键不存在时写入交易，返回是否写入。
func (g *SubmissionGuard) Record(ctx context.Context, key string, sub storage.Submission) (bool, error) {
	encoded, err := json.Marshal(sub)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化幂等记录失败")
	}
	ok, err := g.client.SetNX(ctx, g.key(key), encoded, g.ttl).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入幂等键失败")
	}
	return ok, nil
}

// Close 关闭 Redis 连接。
func (g *SubmissionGuard) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

var _ storage.SubmissionGuard = (*SubmissionGuard)(nil)
