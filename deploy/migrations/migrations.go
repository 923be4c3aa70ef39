package migrations

import "embed"

// Files 暴露钱包活动日志的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
