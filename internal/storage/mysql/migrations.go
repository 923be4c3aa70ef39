package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ParaWallet-Chain/deploy/migrations"
	"ParaWallet-Chain/pkg/logger"
)

var embeddedMigrations fs.ReadFileFS = migrations.Files

const createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

// migration 是一个按版本号排序执行的 SQL 文件。
type migration struct {
	version    string
	file       string
	statements []string
}

func (s *SQLActivityRepository) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return err
	}
	all, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	for _, m := range all {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(ctx, s.db, m); err != nil {
			return err
		}
		logger.Named("mysql").Info("migration applied", slog.String("version", m.version), slog.String("file", m.file))
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	rollback := func(cause error) error {
		_ = tx.Rollback()
		return cause
	}

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return rollback(fmt.Errorf("执行迁移 %s 失败: %w", m.file, err))
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
		return rollback(fmt.Errorf("记录迁移版本失败: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

// loadMigrations 读取嵌入的 *.sql 文件，版本号取文件名中第一个下划线之前的部分。
func loadMigrations(files fs.ReadFileFS) ([]migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		version, _, found := strings.Cut(name, "_")
		if !found {
			version = strings.TrimSuffix(name, ".sql")
		}
		out = append(out, migration{version: version, file: name, statements: statements})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].version == out[j].version {
			return out[i].file < out[j].file
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

func splitStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}
