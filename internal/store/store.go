// 包 store: 提供与 PostgreSQL 的数据访问层，记录查询统计（总量、每日、按绑定命中、最近查询 IP）
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

// Store: 数据库访问入口，持有连接池并提供统计读写接口（连接由 utils.OpenPostgresFromEnv 打开）
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

// Hit: 一次查询的统计维度
type Hit struct {
	// Visitor: 该访客在去重窗口内首次出现
	Visitor  bool
	Bindings []string
	Addr     rangeindex.Address
}

// IncrStats: 查询后递增总计与当日计数、按绑定命中计数，并记录最近查询 IP
// 约束：统计失败不影响查询结果；返回首个错误供调用方记录日志
func (s *Store) IncrStats(ctx context.Context, h Hit) error {
	var errs []error
	exec := func(q string, args ...any) {
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			errs = append(errs, err)
		}
	}
	empty := 0
	if len(h.Bindings) == 0 {
		empty = 1
	}
	exec("UPDATE _ipinfo_stats_total SET total_queries=total_queries+1, empty_results=empty_results+$1 WHERE id=1", empty)
	exec("INSERT INTO _ipinfo_stats_daily(day, queries) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET queries=_ipinfo_stats_daily.queries+1")
	if h.Visitor {
		exec("UPDATE _ipinfo_stats_total SET total_visitors=total_visitors+1 WHERE id=1")
		exec("INSERT INTO _ipinfo_stats_daily(day, visitors) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET visitors=_ipinfo_stats_daily.visitors+1")
	}
	for _, b := range h.Bindings {
		exec("INSERT INTO _ipinfo_binding_hits(day, binding, hits) VALUES(current_date, $1, 1) ON CONFLICT (day, binding) DO UPDATE SET hits=_ipinfo_binding_hits.hits+1", b)
	}
	exec(`INSERT INTO _ipinfo_recent_ips(ip_int, last_seen, queries)
        VALUES($1, now(), 1)
        ON CONFLICT (ip_int) DO UPDATE SET last_seen=now(), queries=_ipinfo_recent_ips.queries+1`, int64(h.Addr))
	logger.L().Debug("stats_incr", "visitor", h.Visitor, "bindings", len(h.Bindings))
	return errors.Join(errs...)
}

// Totals: 统计返回结构
type Totals struct {
	Total         int64            `json:"total"`
	Today         int64            `json:"today"`
	Visitors      int64            `json:"visitors"`
	VisitorsToday int64            `json:"visitors_today"`
	EmptyResults  int64            `json:"empty_results"`
	BindingsToday map[string]int64 `json:"bindings_today"`
}

// GetTotals: 读取累计与当日统计，用于接口返回
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	t := Totals{BindingsToday: map[string]int64{}}
	row := s.db.QueryRowContext(ctx, "SELECT total_queries, total_visitors, empty_results FROM _ipinfo_stats_total WHERE id=1")
	if err := row.Scan(&t.Total, &t.Visitors, &t.EmptyResults); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	row2 := s.db.QueryRowContext(ctx, "SELECT queries, visitors FROM _ipinfo_stats_daily WHERE day=current_date")
	if err := row2.Scan(&t.Today, &t.VisitorsToday); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT binding, hits FROM _ipinfo_binding_hits WHERE day=current_date")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		t.BindingsToday[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return &t, nil
}

// Recent: 最近查询的 IP 及次数
type Recent struct {
	IP       string    `json:"ip"`
	Queries  int64     `json:"queries"`
	LastSeen time.Time `json:"last_seen"`
}

// 文档注释：获取最近查询的 IP 列表
// 参数：hours 为最近窗口小时数，limit 为最大返回数量。
func (s *Store) FetchRecent(ctx context.Context, hours int, limit int) ([]Recent, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT ip_int, queries, last_seen
        FROM _ipinfo_recent_ips
        WHERE last_seen >= now() - make_interval(hours => $1)
        ORDER BY last_seen DESC
        LIMIT $2`, hours, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recent
	for rows.Next() {
		var v int64
		var r Recent
		if err := rows.Scan(&v, &r.Queries, &r.LastSeen); err != nil {
			return nil, err
		}
		if v < 0 || v > 0xffffffff {
			return nil, fmt.Errorf("store: bad ip_int %d", v)
		}
		r.IP = rangeindex.Address(uint32(v)).String()
		out = append(out, r)
	}
	return out, rows.Err()
}
