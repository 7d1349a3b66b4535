// 包 remoteip：在可信反向代理之后识别客户端真实 IPv4
package remoteip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// DefaultTrusted：默认可信代理网段（私网、链路本地、回环）
var DefaultTrusted = []string{
	"10.0.0.0/8",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"127.0.0.0/8",
	"172.16.0.0/12",
}

const DefaultHeader = "X-Forwarded-For"

// Detector：按转发头从右向左取第一个不可信的 IPv4
// 背景：与常见网关的 RemoteIp 处理一致；只有直连对端可信时才读取转发头，避免客户端伪造
type Detector struct {
	trusted *netipx.IPSet
	header  string
}

// New：cidrs 为空时使用 DefaultTrusted；header 为空时使用 X-Forwarded-For
func New(cidrs []string, header string) (*Detector, error) {
	if len(cidrs) == 0 {
		cidrs = DefaultTrusted
	}
	if header == "" {
		header = DefaultHeader
	}
	var b netipx.IPSetBuilder
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(c))
		if err != nil {
			return nil, fmt.Errorf("remoteip: trusted proxy %q: %w", c, err)
		}
		b.AddPrefix(p.Masked())
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, err
	}
	return &Detector{trusted: set, header: header}, nil
}

// Trusted：地址是否属于可信代理
func (d *Detector) Trusted(ip netip.Addr) bool { return d.trusted.Contains(ip.Unmap()) }

// Addr：解析客户端地址；ok=false 表示对端地址本身无法解析
func (d *Detector) Addr(r *http.Request) (netip.Addr, bool) {
	peer, ok := PeerAddr(r)
	if !ok {
		return netip.Addr{}, false
	}
	if !d.Trusted(peer) {
		return peer, true
	}
	vals := headerValues(r, d.header)
	for i := len(vals) - 1; i >= 0; i-- {
		ip, err := netip.ParseAddr(vals[i])
		if err != nil {
			continue
		}
		ip = ip.Unmap()
		if ip.Is4() && !d.Trusted(ip) {
			return ip, true
		}
	}
	return peer, true
}

// ClientIP：客户端地址文本；无法解析时返回原始 RemoteAddr
func (d *Detector) ClientIP(r *http.Request) string {
	if ip, ok := d.Addr(r); ok {
		return ip.String()
	}
	return r.RemoteAddr
}

// PeerAddr：直连对端地址（去掉端口，IPv4-mapped 还原为 IPv4）
func PeerAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// headerValues：多行同名头与逗号分隔值展开为一个列表（顺序保持）
func headerValues(r *http.Request, name string) []string {
	var out []string
	for _, line := range r.Header.Values(name) {
		for _, v := range strings.Split(line, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
