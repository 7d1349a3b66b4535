// 包 cache：查询结果的 Redis 短期缓存
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ipinfo/internal/logger"
	"ipinfo/internal/metrics"
)

const keyPrefix = "ipinfo:"

// Results：按 IP 缓存序列化后的查询结果
// 约束：数据源刷新后旧结果最多保留 TTL；rc 为 nil 时所有操作为空操作
type Results struct {
	rc  *redis.Client
	ttl time.Duration
}

func New(rc *redis.Client, ttl time.Duration) *Results {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Results{rc: rc, ttl: ttl}
}

func Key(ip string) string { return keyPrefix + ip }

func (c *Results) Enabled() bool { return c != nil && c.rc != nil }

// Get：命中返回 true；Redis 错误按未命中处理
func (c *Results) Get(ctx context.Context, ip string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	b, err := c.rc.Get(ctx, Key(ip)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Debug("cache_get_error", "ip", ip, "err", err)
		}
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.Inc()
	return b, true
}

func (c *Results) Set(ctx context.Context, ip string, b []byte) {
	if !c.Enabled() {
		return
	}
	if err := c.rc.Set(ctx, Key(ip), b, c.ttl).Err(); err != nil {
		logger.L().Debug("cache_set_error", "ip", ip, "err", err)
	}
}

// Flush：删除全部缓存结果（手动重载数据源后调用）
func (c *Results) Flush(ctx context.Context) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}
	n := 0
	iter := c.rc.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := c.rc.Del(ctx, batch...).Err(); err != nil {
				return n, err
			}
			n += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	if len(batch) > 0 {
		if err := c.rc.Del(ctx, batch...).Err(); err != nil {
			return n, err
		}
		n += len(batch)
	}
	return n, nil
}
