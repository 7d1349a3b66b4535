// 包 allowlist：基于 IP/CIDR 白名单的访问控制中间件（管理端接口）
package allowlist

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// 文档注释：IP/CIDR 白名单
// 背景：管理端接口（手动重载数据源）仅对运维网段开放；令牌校验之外再加一层来源限制。
// 约束：
// 1) 不依赖项目内部代码，可直接复用；
// 2) 支持 IPv4/IPv6 单 IP 与 CIDR；
// 3) 来源地址由调用方提供（通常为可信代理之后识别出的客户端地址）。
type List struct {
	l   *slog.Logger
	set *netipx.IPSet
}

// AddrFunc：解析请求来源地址
type AddrFunc func(r *http.Request) (netip.Addr, bool)

// New：构建白名单；allowLocal 时加入 127.0.0.0/8 与 ::1
// 约束：任一项无法解析即返回错误，避免配置错误导致静默放行或拒绝
func New(l *slog.Logger, ips, cidrs []string, allowLocal bool) (*List, error) {
	var b netipx.IPSetBuilder
	for _, s := range ips {
		ip, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("allowlist: ip %q: %w", s, err)
		}
		b.Add(ip.Unmap())
	}
	for _, s := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("allowlist: cidr %q: %w", s, err)
		}
		b.AddPrefix(p.Masked())
	}
	if allowLocal {
		b.AddPrefix(netip.MustParsePrefix("127.0.0.0/8"))
		b.Add(netip.IPv6Loopback())
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, err
	}
	return &List{l: l, set: set}, nil
}

// Allowed：判断地址是否在白名单
func (m *List) Allowed(ip netip.Addr) bool { return m.set.Contains(ip.Unmap()) }

// Wrap：生成 http.Handler 中间件；未命中白名单统一返回 403
func (m *List) Wrap(addr AddrFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := addr(r)
		if !ok {
			m.l.Debug("allowlist_block", "reason", "no_ip")
			write403(w)
			return
		}
		if m.Allowed(ip) {
			next.ServeHTTP(w, r)
			return
		}
		m.l.Info("allowlist_block", "ip", ip.String(), "path", r.URL.Path)
		write403(w)
	})
}

// write403：返回统一 403 JSON
func write403(w http.ResponseWriter) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"forbidden"}`))
}
