// 包 lookup：聚合全部绑定，对单个地址并行无锁地查询所有当前可见索引
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ipinfo/internal/binding"
	"ipinfo/internal/metrics"
	"ipinfo/internal/rangeindex"
	"ipinfo/internal/refresh"
)

var (
	ErrDuplicateBinding = errors.New("lookup: duplicate binding name")
	ErrUnknownBinding   = errors.New("lookup: unknown binding")
	// ErrInvalidName：绑定名为空或含 ':'（':' 保留给拆分子绑定 "<source>:<value>"）
	ErrInvalidName = errors.New("lookup: invalid binding name")
)

// Aggregator：持有全部已注册绑定
// 约束：注册只在启动阶段进行；查询只读取各绑定的快照，可并发调用
type Aggregator struct {
	mu       sync.RWMutex
	bindings []*binding.Binding
	byName   map[string]*binding.Binding
}

func New() *Aggregator {
	return &Aggregator{byName: make(map[string]*binding.Binding)}
}

// Register：注册绑定；名称重复返回 ErrDuplicateBinding，名称含 ':' 返回 ErrInvalidName
func (a *Aggregator) Register(b *binding.Binding) error {
	if b.Name() == "" || strings.Contains(b.Name(), ":") {
		return fmt.Errorf("%w: %q", ErrInvalidName, b.Name())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byName[b.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBinding, b.Name())
	}
	a.byName[b.Name()] = b
	a.bindings = append(a.bindings, b)
	return nil
}

// Query：查询地址在各绑定中的命中记录
// 背景：尚未就绪的绑定直接跳过；从不失败，无命中即空结果
func (a *Aggregator) Query(addr rangeindex.Address) *ResultSet {
	rs := newResultSet(addr)
	a.mu.RLock()
	bs := a.bindings
	a.mu.RUnlock()
	for _, b := range bs {
		set, ok := b.Snapshot()
		if !ok {
			continue
		}
		for name, idx := range set {
			if rec, hit := idx.Lookup(addr); hit {
				rs.add(name, rec)
				metrics.LookupMatchesTotal.WithLabelValues(name).Inc()
			}
		}
	}
	if rs.Len() == 0 {
		metrics.EmptyResultsTotal.Inc()
	}
	return rs
}

// QueryString：解析后查询；仅在输入不是合法 IPv4 时返回错误
func (a *Aggregator) QueryString(ip string) (*ResultSet, error) {
	addr, err := rangeindex.ParseAddress(ip)
	if err != nil {
		return nil, err
	}
	return a.Query(addr), nil
}

// Bindings：按注册顺序返回绑定名
func (a *Aggregator) Bindings() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.bindings))
	for _, b := range a.bindings {
		out = append(out, b.Name())
	}
	return out
}

func (a *Aggregator) Status() []refresh.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]refresh.Status, 0, len(a.bindings))
	for _, b := range a.bindings {
		out = append(out, b.Status())
	}
	return out
}

// Refresh：手动重载一个绑定
func (a *Aggregator) Refresh(ctx context.Context, name string) error {
	a.mu.RLock()
	b, ok := a.byName[name]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBinding, name)
	}
	return b.Refresh(ctx)
}

// Close：并行停止全部绑定的后续刷新；已就绪的索引仍可查询
// 约束：每个绑定的等待上限见 refresh.DefaultCloseWait，总耗时不随绑定数量累加
func (a *Aggregator) Close() {
	a.mu.RLock()
	bs := a.bindings
	a.mu.RUnlock()
	var wg sync.WaitGroup
	for _, b := range bs {
		wg.Add(1)
		go func(b *binding.Binding) {
			defer wg.Done()
			b.Close()
		}(b)
	}
	wg.Wait()
}
