package api

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const bloomKeyPrefix = "ipinfo_bloom:"

// 文档注释：计算布隆过滤器位置
// 参数：data 为参与哈希的字节序列，m 为位图大小，k 为哈希次数（控制误判率与写入开销）。
// 背景：xxhash64 拆为高低 32 位做双重哈希，一次哈希即可得到 k 个位置。
func bloomPositions(data []byte, m uint32, k int) []int64 {
	h := xxhash.Sum64(data)
	h1, h2 := uint32(h), uint32(h>>32)
	pos := make([]int64, k)
	for i := 0; i < k; i++ {
		pos[i] = int64((h1 + uint32(i)*h2) % m)
	}
	return pos
}

// 文档注释：检查并写入布隆过滤器位图
// 返回：true 表示首次见到（已写入位图）；false 表示已存在。
// 异常：Redis 交互错误时返回 error，此时按“已见过”处理，避免重复计数。
func bloomCheckAndSet(ctx context.Context, rc *redis.Client, key string, positions []int64, ttl time.Duration) (bool, error) {
	cmds, err := rc.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, pos := range positions {
			p.GetBit(ctx, key, pos)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	seen := true
	for _, c := range cmds {
		if c.(*redis.IntCmd).Val() == 0 {
			seen = false
			break
		}
	}
	if seen {
		return false, nil
	}
	_, err = rc.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, pos := range positions {
			p.SetBit(ctx, key, pos, 1)
		}
		p.Expire(ctx, key, ttl)
		return nil
	})
	return true, err
}

// Visitors：按自然日（UTC）对访问来源去重，用于独立访客统计
type Visitors struct {
	rc  *redis.Client
	m   uint32
	k   int
	ttl time.Duration
	now func() time.Time
}

// NewVisitors：rc 为 nil 时返回 nil（不统计独立访客）
func NewVisitors(rc *redis.Client) *Visitors {
	if rc == nil {
		return nil
	}
	return &Visitors{rc: rc, m: 1 << 24, k: 4, ttl: 48 * time.Hour, now: time.Now}
}

func (v *Visitors) key() string {
	return bloomKeyPrefix + v.now().UTC().Format("20060102")
}

// First：当日首次出现返回 true
func (v *Visitors) First(ctx context.Context, id string) (bool, error) {
	if v == nil || v.rc == nil {
		return false, nil
	}
	return bloomCheckAndSet(ctx, v.rc, v.key(), bloomPositions([]byte(id), v.m, v.k), v.ttl)
}
