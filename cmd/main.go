// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"ipinfo/internal/api"
	"ipinfo/internal/app"
	"ipinfo/internal/cache"
	"ipinfo/internal/config"
	"ipinfo/internal/logger"
	"ipinfo/internal/metrics"
	"ipinfo/internal/middleware"
	"ipinfo/internal/migrate"
	"ipinfo/internal/remoteip"
	"ipinfo/internal/sources"
	"ipinfo/internal/store"
	"ipinfo/internal/utils"
	"ipinfo/pkg/allowlist"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.FromEnv()
	l.Debug("config_api_base", "base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	specs, err := config.LoadSources(cfg.SourcesFile, cfg.RefreshPeriod)
	if err != nil {
		l.Error("sources_load_error", "file", cfg.SourcesFile, "err", err)
		os.Exit(1)
	}
	l.Info("sources_loaded", "file", cfg.SourcesFile, "count", len(specs))
	agg, err := app.Bootstrap(ctx, specs, sources.NewHTTPClient(cfg.FetchTimeout), app.WithFetchTimeout(cfg.FetchTimeout))
	if err != nil {
		l.Error("bootstrap_error", "err", err)
		os.Exit(1)
	}
	defer agg.Close()

	opts := api.Options{Lookup: agg, Metrics: metrics.Handler(), AdminToken: cfg.AdminToken, Logger: l}

	// 统计库可选：关闭时 /stats 返回 404
	if cfg.StatsDBEnable {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		st := store.AttachDB(db)
		defer st.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		opts.Stats = st
	} else {
		l.Info("stats_db_disabled")
	}

	if cfg.CacheEnable || cfg.StatsDBEnable {
		rc := utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		defer rc.Close()
		if cfg.CacheEnable {
			opts.Cache = cache.New(rc, cfg.CacheTTL)
		}
		opts.Visitors = api.NewVisitors(rc)
	} else {
		l.Info("redis_disabled")
	}

	det, err := remoteip.New(cfg.TrustedProxies, cfg.RemoteIPHeader)
	if err != nil {
		l.Error("trusted_proxies_error", "err", err)
		os.Exit(1)
	}
	opts.RemoteAddr = det.Addr
	allow, err := allowlist.New(l, cfg.AdminAllowIPs, cfg.AdminAllowCIDRs, cfg.AdminAllowLocal)
	if err != nil {
		l.Error("admin_allowlist_error", "err", err)
		os.Exit(1)
	}
	opts.AdminGuard = func(next http.Handler) http.Handler { return allow.Wrap(det.Addr, next) }

	base := cfg.APIBase
	if base == "" {
		base = "/"
	}
	root := chi.NewRouter()
	root.Use(logger.AccessMiddleware(l, det.ClientIP))
	if cfg.RateLimitEnabled {
		root.Use(middleware.RateLimit(cfg.RateLimitQPS, cfg.RateLimitBurst))
	}
	root.Mount(base, api.NewServer(opts).Routes())
	if base != "/" {
		root.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, base+"/hello", http.StatusFound)
		})
	}

	s := &http.Server{Addr: cfg.Addr, Handler: root, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		if cfg.TLSEnable {
			if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "ipinfo.local"); err != nil {
				l.Error("tls_cert_error", "err", err)
			}
			if cfg.TLSRedirectAddr != "" {
				go serveRedirect(l, cfg.TLSRedirectAddr, cfg.Addr)
			}
			l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
			errc <- s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		l.Info("listening", "addr", cfg.Addr)
		errc <- s.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			l.Error("listen_error", "err", err)
		}
	case <-ctx.Done():
		l.Info("shutdown_begin")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			l.Error("shutdown_error", "err", err)
		}
	}
	l.Info("shutdown_done")
}

// serveRedirect：HTTP 重定向到 HTTPS 服务端口
func serveRedirect(l *slog.Logger, addr, httpsAddr string) {
	_, port, _ := net.SplitHostPort(httpsAddr)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if port != "" && port != "443" {
			host = net.JoinHostPort(host, port)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
	l.Info("http_redirect_listening", "addr", addr, "to", "https"+httpsAddr)
	if err := http.ListenAndServe(addr, h); err != nil {
		l.Error("http_redirect_error", "err", err)
	}
}
