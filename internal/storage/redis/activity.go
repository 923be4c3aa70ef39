package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/storage"
)

const defaultActivityCap = 1000

// ActivityRepository 使用定长 Redis list 保存最近的活动记录。
type ActivityRepository struct {
	client *goredis.Client
	key    string
	cap    int64
}

// NewActivityRepository 连接 Redis 并创建活动仓库。capacity 不大于 0 时保留 1000 条。
func NewActivityRepository(ctx context.Context, cfg Config, capacity int) (*ActivityRepository, error) {
	client, err := connect(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	if capacity <= 0 {
		capacity = defaultActivityCap
	}
	return &ActivityRepository{client: client, key: cfg.prefix() + ":activity", cap: int64(capacity)}, nil
}

// Save 将记录推入列表头部并裁剪到容量上限。
func (r *ActivityRepository) Save(ctx context.Context, record storage.ActivityRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化活动记录失败")
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, encoded)
	pipe.LTrim(ctx, r.key, 0, r.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 活动记录失败")
	}
	return nil
}

// ListLatest 返回最近的活动记录；无法解析的条目会被跳过。
func (r *ActivityRepository) ListLatest(ctx context.Context, limit int) ([]storage.ActivityRecord, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	values, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 活动记录失败")
	}
	records := make([]storage.ActivityRecord, 0, len(values))
	for _, value := range values {
		var record storage.ActivityRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Close 关闭 Redis 连接。
func (r *ActivityRepository) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ storage.ActivityRepository = (*ActivityRepository)(nil)
