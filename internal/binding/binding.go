// 包 binding：将外部数据源绑定到后台刷新的地址段索引；支持按属性拆分为多个子索引
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ipinfo/internal/logger"
	"ipinfo/internal/metrics"
	"ipinfo/internal/rangeindex"
	"ipinfo/internal/refresh"
)

// Source：外部数据源契约
// 约束：Name 稳定且唯一，作为绑定名与结果键；FetchRecords 任何 I/O 或解析问题均返回 *FetchError
type Source interface {
	Name() string
	FetchRecords(ctx context.Context) ([]rangeindex.Record, error)
}

// FetchError：数据源拉取或解析失败（可恢复，下个周期重试）
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return "fetch " + e.Source + ": " + e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

// Fail：包装为 FetchError（已是 FetchError 时原样返回）
func Fail(source string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Source: source, Err: err}
}

// Set：绑定当前可见的索引集合（名称 -> 索引）；普通绑定只有一个条目
type Set map[string]*rangeindex.Index

type config struct {
	partitionKey string
	refreshOpts  []refresh.Option
	l            *slog.Logger
}

// Option：绑定选项
type Option func(*config)

// PartitionBy：按属性 key 拆分记录，每个取值构建一个名为 "<source>:<value>" 的子索引
func PartitionBy(key string) Option { return func(c *config) { c.partitionKey = key } }

// WithRefreshOptions：透传刷新容器选项（超时、触发源等）
func WithRefreshOptions(opts ...refresh.Option) Option {
	return func(c *config) { c.refreshOpts = append(c.refreshOpts, opts...) }
}

// WithLogger：指定日志器
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.l = l } }

// Binding：数据源 + 刷新容器
type Binding struct {
	name         string
	partitionKey string
	v            *refresh.Value[Set]
}

func newConfig(opts []Option) config {
	var c config
	for _, f := range opts {
		f(&c)
	}
	if c.l == nil {
		c.l = logger.L()
	}
	c.refreshOpts = append([]refresh.Option{refresh.WithLogger(c.l)}, c.refreshOpts...)
	return c
}

// NewEager：构造时同步拉取并构建；失败返回错误
func NewEager(ctx context.Context, src Source, opts ...Option) (*Binding, error) {
	c := newConfig(opts)
	v, err := refresh.NewEager(ctx, src.Name(), fetcher(src, c), c.refreshOpts...)
	if err != nil {
		return nil, err
	}
	return &Binding{name: src.Name(), partitionKey: c.partitionKey, v: v}, nil
}

// NewPeriodic：立即返回；后台立即拉取一次，之后每 period 刷新
func NewPeriodic(src Source, period time.Duration, opts ...Option) *Binding {
	c := newConfig(opts)
	v := refresh.NewPeriodic(src.Name(), period, fetcher(src, c), c.refreshOpts...)
	return &Binding{name: src.Name(), partitionKey: c.partitionKey, v: v}
}

// fetcher：一次完整刷新 = 拉取全部记录 -> (可选)拆分 -> 构建全部索引；整体作为一个原子单元替换
func fetcher(src Source, c config) refresh.FetchFunc[Set] {
	name := src.Name()
	return func(ctx context.Context) (Set, error) {
		t0 := time.Now()
		records, err := src.FetchRecords(ctx)
		if err != nil {
			return nil, Fail(name, err)
		}
		c.l.Debug("source_fetch_done", "binding", name, "records", len(records), "duration_ms", time.Since(t0).Milliseconds())
		set, err := buildSet(c.l, name, c.partitionKey, records)
		if err != nil {
			return nil, err
		}
		for n, idx := range set {
			st := idx.Stats()
			metrics.IndexEntries.WithLabelValues(n).Set(float64(idx.Len()))
			if st.Anomalies > 0 {
				metrics.IndexOverlapAnomaliesTotal.WithLabelValues(n).Add(float64(st.Anomalies))
			}
			c.l.Info("index_built", "binding", n, "input", st.Input, "entries", idx.Len(), "kept", st.Kept, "replaced", st.Replaced, "trimmed", st.Trimmed, "anomalies", st.Anomalies)
		}
		return set, nil
	}
}

// BuildSet：由一批记录构建索引集合；partitionKey 为空时构建单一索引
func BuildSet(name, partitionKey string, records []rangeindex.Record) (Set, error) {
	return buildSet(logger.L(), name, partitionKey, records)
}

func buildSet(l *slog.Logger, name, partitionKey string, records []rangeindex.Record) (Set, error) {
	if partitionKey == "" {
		return buildPlain(l, name, records)
	}
	return buildPartitioned(l, name, partitionKey, records)
}

func buildPlain(l *slog.Logger, name string, records []rangeindex.Record) (Set, error) {
	idx, err := rangeindex.BuildWithLogger(l, name, records)
	if err != nil {
		return nil, err
	}
	return Set{name: idx}, nil
}

// buildPartitioned：按属性值分组（保持组内输入顺序），逐组构建；任一组失败则整轮失败
// 约束：缺少该属性的记录归入空值分组 "<source>:"
func buildPartitioned(l *slog.Logger, name, key string, records []rangeindex.Record) (Set, error) {
	groups := make(map[string][]rangeindex.Record)
	var order []string
	for _, r := range records {
		v := r.Attrs[key]
		if _, ok := groups[v]; !ok {
			order = append(order, v)
		}
		groups[v] = append(groups[v], r)
	}
	set := make(Set, len(groups))
	for _, v := range order {
		sub := PartitionName(name, v)
		idx, err := rangeindex.BuildWithLogger(l, sub, groups[v])
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", sub, err)
		}
		set[sub] = idx
	}
	return set, nil
}

// PartitionName：子绑定命名规则
func PartitionName(source, value string) string { return source + ":" + value }

func (b *Binding) Name() string { return b.name }

// Partitioned：是否为拆分绑定
func (b *Binding) Partitioned() bool { return b.partitionKey != "" }

// Snapshot：当前可见的索引集合；尚无成功刷新时返回 false
func (b *Binding) Snapshot() (Set, bool) { return b.v.Get() }

// Refresh：立即刷新一次
func (b *Binding) Refresh(ctx context.Context) error { return b.v.Refresh(ctx) }

func (b *Binding) Status() refresh.Status { return b.v.Status() }

// Close：停止后续刷新，保留最后一次成功的索引
func (b *Binding) Close() { b.v.Close() }
