package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-sql-driver/mysql"

	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/storage"
)

const (
	activityFile     = "activity.log"
	memoryActivities = 512
	defaultListLimit = 20
)

// MemoryActivityRepository 使用本地 JSON 行文件记录活动，方便本地开发。
type MemoryActivityRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []storage.ActivityRecord
}

// NewMemoryActivityRepository 创建文件型活动仓库，并恢复历史记录。
func NewMemoryActivityRepository(dataDir string) (*MemoryActivityRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &MemoryActivityRepository{dataFile: filepath.Join(dataDir, activityFile)}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录活动。
func (m *MemoryActivityRepository) Save(_ context.Context, record storage.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开活动日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化活动记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入活动日志失败")
	}

	m.records = append([]storage.ActivityRecord{record}, m.records...)
	if len(m.records) > memoryActivities {
		m.records = m.records[:memoryActivities]
	}
	return nil
}

// ListLatest 返回最近的活动记录，按时间倒序排列。
func (m *MemoryActivityRepository) ListLatest(_ context.Context, limit int) ([]storage.ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]storage.ActivityRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 无需释放资源。
func (m *MemoryActivityRepository) Close() error { return nil }

func (m *MemoryActivityRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取活动日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []storage.ActivityRecord
	for scanner.Scan() {
		var record storage.ActivityRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]storage.ActivityRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析活动日志失败")
	}

	if len(restored) > memoryActivities {
		restored = restored[:memoryActivities]
	}
	m.records = restored
	return nil
}

// SQLActivityRepository 使用 MySQL 存储活动记录。
type SQLActivityRepository struct {
	db *sql.DB
}

// NewSQLActivityRepository 建立连接池并执行迁移。
func NewSQLActivityRepository(ctx context.Context, cfg Config) (*SQLActivityRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	repo := &SQLActivityRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	return repo, nil
}

const insertActivitySQL = `INSERT INTO wallet_activity
    (id, kind, wallet_id, chain_id, tx_hash, status, detail, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const listActivitySQL = `SELECT id, kind, wallet_id, chain_id, tx_hash, status, detail, created_at
    FROM wallet_activity ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 写入一条活动记录；重复 id 视为已写入。
func (s *SQLActivityRepository) Save(ctx context.Context, record storage.ActivityRecord) error {
	_, err := s.db.ExecContext(ctx, insertActivitySQL,
		record.ID,
		string(record.Kind),
		record.WalletID,
		record.ChainID,
		record.TxHash,
		record.Status,
		record.Detail,
		record.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入活动记录失败")
	}
	return nil
}

// ListLatest 查询最近的若干条活动记录。
func (s *SQLActivityRepository) ListLatest(ctx context.Context, limit int) ([]storage.ActivityRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, listActivitySQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询活动记录失败")
	}
	defer rows.Close()

	records := []storage.ActivityRecord{}
	for rows.Next() {
		var (
			record storage.ActivityRecord
			kind   string
			detail sql.NullString
		)
		if err := rows.Scan(&record.ID, &kind, &record.WalletID, &record.ChainID, &record.TxHash, &record.Status, &detail, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析活动记录失败")
		}
		record.Kind = storage.ActivityKind(kind)
		record.Detail = detail.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历活动记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLActivityRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("关闭 MySQL 连接失败: %w", err)
	}
	return nil
}

var (
	_ storage.ActivityRepository = (*MemoryActivityRepository)(nil)
	_ storage.ActivityRepository = (*SQLActivityRepository)(nil)
)
