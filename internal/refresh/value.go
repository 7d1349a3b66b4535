// 包 refresh：后台刷新的值容器（一次性预取 / 周期异步刷新），读路径无锁且永不阻塞
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"ipinfo/internal/logger"
	"ipinfo/internal/metrics"
)

// ErrClosed：值容器已关闭，不再接受新的刷新
var ErrClosed = errors.New("refresh: closed")

// FetchFunc：产出一个完整的新值；失败时返回 error，旧值保持不变
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Ticker：周期触发源，便于在测试中替换为手动驱动
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }

// Status：刷新状态快照（对外只读）
type Status struct {
	Name        string    `json:"name"`
	Ready       bool      `json:"ready"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
}

// DefaultCloseWait：Close 等待进行中 fetch 退出的默认上限
const DefaultCloseWait = 5 * time.Second

type options struct {
	l         *slog.Logger
	timeout   time.Duration
	closeWait time.Duration
	newTicker func(time.Duration) Ticker
}

// Option：构造选项
type Option func(*options)

// WithLogger：指定日志器（默认 logger.L()）
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.l = l } }

// WithTimeout：为单次 fetch 附加超时；默认不设置，由数据源自行控制
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithCloseWait：Close 等待后台协程退出的上限（<=0 表示一直等待）
func WithCloseWait(d time.Duration) Option { return func(o *options) { o.closeWait = d } }

// WithTicker：替换周期触发源
func WithTicker(f func(time.Duration) Ticker) Option { return func(o *options) { o.newTicker = f } }

// Value：持有最近一次成功产出的值
// 背景：状态只有“空”与“就绪(值)”两种，刷新成功时整体替换指针，读者要么看到旧值要么看到新值，不会看到构建中的值。
// 约束：同一容器的 fetch 严格串行（周期循环与手动刷新共用 fetchMu）；失败只记录日志与指标，不影响调度。
type Value[T any] struct {
	name    string
	fetch   FetchFunc[T]
	opts    options
	cur     atomic.Pointer[T]
	fetchMu sync.Mutex
	sf      singleflight.Group

	mu sync.Mutex
	st Status

	closed    atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newValue[T any](name string, fetch FetchFunc[T], opts []Option) *Value[T] {
	o := options{newTicker: newStdTicker, closeWait: DefaultCloseWait}
	for _, f := range opts {
		f(&o)
	}
	if o.l == nil {
		o.l = logger.L()
	}
	o.l = o.l.With("binding", name)
	return &Value[T]{name: name, fetch: fetch, opts: o, st: Status{Name: name}}
}

// NewEager：构造时同步执行一次 fetch，失败则构造失败
// 背景：适用于需要立即一致数据集的调用方（命令行批处理），接受启动延迟与启动失败。
func NewEager[T any](ctx context.Context, name string, fetch FetchFunc[T], opts ...Option) (*Value[T], error) {
	v := newValue(name, fetch, opts)
	v.done = make(chan struct{})
	close(v.done)
	v.cancel = func() {}
	if err := v.cycle(ctx); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", name, err)
	}
	return v, nil
}

// NewPeriodic：立即返回（值为空），后台协程立刻执行一次 fetch，此后按固定周期执行，直到 Close
// 约束：period 必须为正；任意次数的连续失败都不会停止调度。
func NewPeriodic[T any](name string, period time.Duration, fetch FetchFunc[T], opts ...Option) *Value[T] {
	if period <= 0 {
		panic("refresh: non-positive period for " + name)
	}
	v := newValue(name, fetch, opts)
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.done = make(chan struct{})
	go v.loop(ctx, period)
	return v
}

func (v *Value[T]) loop(ctx context.Context, period time.Duration) {
	defer close(v.done)
	t := v.opts.newTicker(period)
	defer t.Stop()
	v.opts.l.Debug("refresh_schedule_start", "period", period.String())
	_ = v.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			v.opts.l.Debug("refresh_schedule_stop")
			return
		case <-t.C():
			_ = v.cycle(ctx)
		}
	}
}

// cycle：执行一次完整的 fetch 并在成功时替换当前值
func (v *Value[T]) cycle(ctx context.Context) error {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	fctx := ctx
	if v.opts.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, v.opts.timeout)
		defer cancel()
	}
	start := time.Now()
	val, err := v.safeFetch(fctx)
	dur := time.Since(start)
	metrics.RefreshDurationMs.WithLabelValues(v.name).Observe(float64(dur.Milliseconds()))
	now := time.Now()
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(v.name, "fail").Inc()
		v.mu.Lock()
		v.st.Failures++
		v.st.LastError = err.Error()
		v.st.LastErrorAt = now
		v.mu.Unlock()
		v.opts.l.Error("refresh_error", "err", err, "duration_ms", dur.Milliseconds(), "ready", v.cur.Load() != nil)
		return err
	}
	v.cur.Store(&val)
	metrics.RefreshTotal.WithLabelValues(v.name, "ok").Inc()
	v.mu.Lock()
	v.st.Successes++
	v.st.LastSuccess = now
	v.mu.Unlock()
	v.opts.l.Info("refresh_ok", "duration_ms", dur.Milliseconds())
	return nil
}

// safeFetch：数据源 panic 视为一次失败，避免终止刷新协程
func (v *Value[T]) safeFetch(ctx context.Context) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh: fetch panic: %v", r)
		}
	}()
	return v.fetch(ctx)
}

// Get：读取当前值；从不触发 fetch，从不阻塞
func (v *Value[T]) Get() (T, bool) {
	p := v.cur.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Refresh：立即执行一次刷新（管理端手动重载）
// 约束：并发调用合并为一次；与周期循环串行执行；关闭后返回 ErrClosed
func (v *Value[T]) Refresh(ctx context.Context) error {
	if v.closed.Load() {
		return ErrClosed
	}
	_, err, shared := v.sf.Do("refresh", func() (any, error) {
		return nil, v.cycle(ctx)
	})
	if shared {
		v.opts.l.Debug("refresh_shared")
	}
	return err
}

// Status：返回刷新状态快照
func (v *Value[T]) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.st
	s.Ready = v.cur.Load() != nil
	return s
}

func (v *Value[T]) Name() string { return v.name }

// Close：停止调度新的刷新周期并等待后台协程退出；最后一次成功的值仍可读取
// 约束：忽略 ctx 取消的 fetch 最多等待 closeWait，超时后记录告警直接返回，协程在 fetch 结束后自行退出
func (v *Value[T]) Close() {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.cancel()
		if v.opts.closeWait <= 0 {
			<-v.done
			return
		}
		t := time.NewTimer(v.opts.closeWait)
		defer t.Stop()
		select {
		case <-v.done:
		case <-t.C:
			v.opts.l.Warn("refresh_close_timeout", "wait", v.opts.closeWait.String())
		}
	})
}
