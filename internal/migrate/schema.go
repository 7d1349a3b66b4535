package migrate

import (
	"database/sql"

	"ipinfo/internal/logger"
)

// 背景：首次运行自动创建统计所需表与索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；地址段数据只在内存中维护，不落库
func EnsureSchema(db *sql.DB) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}

// Statements：按顺序执行的建表语句
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS _ipinfo_stats_total (
            id INT PRIMARY KEY,
            total_queries BIGINT NOT NULL DEFAULT 0,
            total_visitors BIGINT NOT NULL DEFAULT 0,
            empty_results BIGINT NOT NULL DEFAULT 0
        )`,
	`CREATE TABLE IF NOT EXISTS _ipinfo_stats_daily (
            day DATE PRIMARY KEY,
            queries BIGINT NOT NULL DEFAULT 0,
            visitors BIGINT NOT NULL DEFAULT 0
        )`,
	`INSERT INTO _ipinfo_stats_total(id, total_queries, total_visitors, empty_results)
         VALUES(1, 0, 0, 0)
         ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS _ipinfo_binding_hits (
            day DATE NOT NULL,
            binding TEXT NOT NULL,
            hits BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (day, binding)
        )`,
	`CREATE TABLE IF NOT EXISTS _ipinfo_recent_ips (
            ip_int BIGINT PRIMARY KEY,
            last_seen TIMESTAMPTZ NOT NULL,
            queries BIGINT NOT NULL DEFAULT 0
        )`,
	`CREATE INDEX IF NOT EXISTS idx_recent_last_seen ON _ipinfo_recent_ips(last_seen)`,
}
