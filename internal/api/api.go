// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	jsoniter "github.com/json-iterator/go"

	"ipinfo/internal/cache"
	"ipinfo/internal/logger"
	"ipinfo/internal/lookup"
	"ipinfo/internal/metrics"
	"ipinfo/internal/rangeindex"
	"ipinfo/internal/refresh"
	"ipinfo/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Lookup：查询聚合器的只读与重载接口（*lookup.Aggregator 实现）
type Lookup interface {
	Query(addr rangeindex.Address) *lookup.ResultSet
	Status() []refresh.Status
	Refresh(ctx context.Context, name string) error
}

// Stats：查询统计的读写接口（*store.Store 实现）
type Stats interface {
	IncrStats(ctx context.Context, h store.Hit) error
	GetTotals(ctx context.Context) (*store.Totals, error)
	FetchRecent(ctx context.Context, hours, limit int) ([]store.Recent, error)
}

// RemoteAddrFunc：解析访问来源地址（可信代理感知）
type RemoteAddrFunc func(r *http.Request) (netip.Addr, bool)

// Options：路由依赖；除 Lookup 与 RemoteAddr 外均可为空
type Options struct {
	Lookup     Lookup
	RemoteAddr RemoteAddrFunc
	Cache      *cache.Results
	// Stats 为空时不记录统计，/stats 返回 404
	Stats    Stats
	Visitors *Visitors
	// AdminToken 为空时管理接口一律拒绝
	AdminToken string
	AdminGuard func(http.Handler) http.Handler
	Metrics    http.Handler
	Logger     *slog.Logger
}

type Server struct {
	o Options
	l *slog.Logger
}

func NewServer(o Options) *Server {
	l := o.Logger
	if l == nil {
		l = logger.L()
	}
	return &Server{o: o, l: l}
}

// Routes：构建 API 路由，由主入口挂载到 API_BASE 前缀
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/ip", s.handleIP)
	r.Get("/ip/{ip}", s.handleIP)
	r.Get("/hello", s.handleHello)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/recent", s.handleRecent)
	if s.o.Metrics != nil {
		r.Handle("/metrics", s.o.Metrics)
	}
	r.Route("/admin", func(r chi.Router) {
		if s.o.AdminGuard != nil {
			r.Use(s.o.AdminGuard)
		}
		r.Post("/refresh/{binding}", s.handleRefresh)
	})
	return r
}

func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() { metrics.RequestDurationMs.Observe(float64(time.Since(t0).Milliseconds())) }()

	// 路径参数优先，其次查询参数，最后回退访问来源
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		ip = r.URL.Query().Get("ip")
	}
	var addr rangeindex.Address
	if ip == "" {
		a, ok := s.remote(r)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "remote address is not IPv4")
			return
		}
		addr = a
	} else {
		a, err := rangeindex.ParseAddress(ip)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid IPv4 address")
			return
		}
		addr = a
	}

	ctx := r.Context()
	key := addr.String()
	body, hit := s.o.Cache.Get(ctx, key)
	var names []string
	if hit {
		names = cachedBindings(body)
	} else {
		rs := s.o.Lookup.Query(addr)
		b, err := json.Marshal(rs)
		if err != nil {
			s.l.Error("result_encode_error", "ip", key, "err", err)
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		body = b
		names = rs.BindingNames()
		s.o.Cache.Set(ctx, key, body)
	}
	s.record(r, addr, names)
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(body)
}

// cachedBindings：从缓存的 JSON 中取回命中绑定名，保证缓存命中时统计一致
func cachedBindings(body []byte) []string {
	var v struct {
		Matches map[string]jsoniter.RawMessage `json:"matches"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	out := make([]string, 0, len(v.Matches))
	for n := range v.Matches {
		out = append(out, n)
	}
	return out
}

// record：写入查询统计；统计失败只记录日志
func (s *Server) record(r *http.Request, addr rangeindex.Address, names []string) {
	if s.o.Stats == nil {
		return
	}
	ctx := r.Context()
	visitor := false
	if p, ok := s.o.RemoteAddr(r); ok {
		first, err := s.o.Visitors.First(ctx, p.String())
		if err != nil {
			s.l.Debug("visitor_bloom_error", "err", err)
		}
		visitor = first
	}
	if err := s.o.Stats.IncrStats(ctx, store.Hit{Visitor: visitor, Bindings: names, Addr: addr}); err != nil {
		s.l.Error("stats_incr_error", "err", err)
	}
}

func (s *Server) remote(r *http.Request) (rangeindex.Address, bool) {
	a, ok := s.o.RemoteAddr(r)
	if !ok {
		return 0, false
	}
	return rangeindex.AddressFromNetip(a)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.remote(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "remote address is not IPv4")
		return
	}
	render.HTML(w, r, Greeting(addr, s.o.Lookup.Query(addr)))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"bindings": s.o.Lookup.Status()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.o.Stats == nil {
		writeError(w, r, http.StatusNotFound, "stats disabled")
		return
	}
	t, err := s.o.Stats.GetTotals(r.Context())
	if err != nil {
		s.l.Error("stats_totals_error", "err", err)
		writeError(w, r, http.StatusInternalServerError, "stats unavailable")
		return
	}
	w.Header().Set("cache-control", "no-store")
	render.JSON(w, r, t)
}

// handleRecent：最近 hours 小时内查询过的地址（hours 默认 24，limit 默认 100，上限 1000）
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.o.Stats == nil {
		writeError(w, r, http.StatusNotFound, "stats disabled")
		return
	}
	hours, ok := queryInt(r, "hours", 24)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid hours")
		return
	}
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	items, err := s.o.Stats.FetchRecent(r.Context(), hours, limit)
	if err != nil {
		s.l.Error("stats_recent_error", "err", err)
		writeError(w, r, http.StatusInternalServerError, "stats unavailable")
		return
	}
	if items == nil {
		items = []store.Recent{}
	}
	w.Header().Set("cache-control", "no-store")
	render.JSON(w, r, map[string]any{"hours": hours, "items": items})
}

const maxRecentLimit = 1000

// queryInt：读取正整数查询参数；缺省返回 def
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// handleRefresh：手动重载一个绑定并清空结果缓存
// 约束：重载失败时保留旧索引，返回 502 与错误原因
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	t := r.Header.Get("x-admin-token")
	if s.o.AdminToken == "" || subtle.ConstantTimeCompare([]byte(t), []byte(s.o.AdminToken)) != 1 {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	name := chi.URLParam(r, "binding")
	ctx := r.Context()
	if err := s.o.Lookup.Refresh(ctx, name); err != nil {
		if errors.Is(err, lookup.ErrUnknownBinding) {
			writeError(w, r, http.StatusNotFound, "unknown binding")
			return
		}
		s.l.Error("admin_refresh_error", "binding", name, "err", err)
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	flushed, err := s.o.Cache.Flush(ctx)
	if err != nil {
		s.l.Error("cache_flush_error", "err", err)
	}
	s.l.Info("admin_refresh_ok", "binding", name, "flushed", flushed)
	render.JSON(w, r, map[string]any{"binding": name, "flushed": flushed})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"error": msg})
}
