// 包 app：按数据源清单构建全部绑定并注册到查询聚合器
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ipinfo/internal/binding"
	"ipinfo/internal/config"
	"ipinfo/internal/logger"
	"ipinfo/internal/lookup"
	"ipinfo/internal/refresh"
	"ipinfo/internal/sources"
)

// DefaultPeriod：清单项未给出周期时的刷新间隔
const DefaultPeriod = 24 * time.Hour

// Entry：一个已构建的数据源及其清单项
type Entry struct {
	Config config.SourceConfig
	Source binding.Source
}

type options struct {
	forceEager   bool
	fetchTimeout time.Duration
	parallel     int
}

type Option func(*options)

// ForceEager：忽略清单中的模式，全部同步加载（命令行批处理）
func ForceEager() Option { return func(o *options) { o.forceEager = true } }

// WithFetchTimeout：单次刷新的整体超时（包含多段下载）
func WithFetchTimeout(d time.Duration) Option { return func(o *options) { o.fetchTimeout = d } }

// Bootstrap：由清单构建数据源并启动绑定
// 约束：未启用的项跳过；任一同步加载失败则整体失败，已启动的绑定会被关闭
func Bootstrap(ctx context.Context, specs []config.SourceConfig, client *http.Client, opts ...Option) (*lookup.Aggregator, error) {
	entries := make([]Entry, 0, len(specs))
	for _, s := range specs {
		if !s.IsEnabled() {
			logger.L().Info("source_disabled", "source", s.Name)
			continue
		}
		src, err := sources.FromConfig(s, client)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Config: s, Source: src})
	}
	return Start(ctx, entries, opts...)
}

// Start：启动绑定；同步加载项经 errgroup 并行拉取，周期项立即返回并在后台加载
// 背景：注册顺序与清单顺序一致，/status 与命令行输出稳定
func Start(ctx context.Context, entries []Entry, opts ...Option) (*lookup.Aggregator, error) {
	o := options{parallel: 4}
	for _, f := range opts {
		f(&o)
	}
	l := logger.L()
	built := make([]*binding.Binding, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallel)
	for i, e := range entries {
		bopts := bindingOptions(e.Config, o)
		if o.forceEager || e.Config.Mode == config.ModeEager {
			i, e := i, e
			g.Go(func() error {
				t0 := time.Now()
				b, err := binding.NewEager(gctx, e.Source, bopts...)
				if err != nil {
					return fmt.Errorf("bootstrap %s: %w", e.Source.Name(), err)
				}
				l.Info("binding_ready", "binding", e.Source.Name(), "mode", config.ModeEager, "duration_ms", time.Since(t0).Milliseconds())
				built[i] = b
				return nil
			})
			continue
		}
		every := e.Config.Every
		if every <= 0 {
			every = DefaultPeriod
		}
		built[i] = binding.NewPeriodic(e.Source, every, bopts...)
		l.Info("binding_scheduled", "binding", e.Source.Name(), "mode", config.ModePeriodic, "period", every.String())
	}
	if err := g.Wait(); err != nil {
		for _, b := range built {
			if b != nil {
				b.Close()
			}
		}
		return nil, err
	}

	agg := lookup.New()
	for _, b := range built {
		if err := agg.Register(b); err != nil {
			for _, b := range built {
				b.Close()
			}
			return nil, err
		}
	}
	return agg, nil
}

func bindingOptions(c config.SourceConfig, o options) []binding.Option {
	var out []binding.Option
	if c.PartitionBy != "" {
		out = append(out, binding.PartitionBy(c.PartitionBy))
	}
	if o.fetchTimeout > 0 {
		out = append(out, binding.WithRefreshOptions(refresh.WithTimeout(o.fetchTimeout)))
	}
	return out
}
