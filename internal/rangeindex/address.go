// 包 rangeindex：IPv4 地址段索引（不可变），提供构建时的冲突裁决与 O(log n) 点查询
package rangeindex

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

var (
	// ErrNotIPv4：输入不是合法的 IPv4 文本（含 IPv6）
	ErrNotIPv4 = errors.New("rangeindex: not an ipv4 address")
	// ErrInvalidRange：起始地址大于结束地址
	ErrInvalidRange = errors.New("rangeindex: invalid range")
)

// Address：主机序 32 位 IPv4 地址
type Address uint32

// ParseAddress：解析 IPv4 文本
// 约束：拒绝 IPv6 与带端口/掩码的输入；IPv4-mapped IPv6（::ffff:a.b.c.d）按 IPv4 处理
func ParseAddress(s string) (Address, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotIPv4, s)
	}
	a, ok := AddressFromNetip(ip)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotIPv4, s)
	}
	return a, nil
}

// AddressFromNetip：netip.Addr 转 Address；非 IPv4 返回 false
func AddressFromNetip(ip netip.Addr) (Address, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return 0, false
	}
	b := ip.As4()
	return Address(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), true
}

// Netip：转换回 netip.Addr
func (a Address) Netip() netip.Addr {
	return netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)})
}

func (a Address) String() string { return a.Netip().String() }

// Range：闭区间 [Start, End]
type Range struct {
	Start Address
	End   Address
}

// NewRange：构造区间；Start > End 时返回 ErrInvalidRange
func NewRange(start, end Address) (Range, error) {
	if start > end {
		return Range{}, fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// ParseCIDR：将 IPv4 CIDR 转换为闭区间
// 背景：各数据源以 CIDR 发布网段，索引内部统一使用整数闭区间比较
func ParseCIDR(s string) (Range, error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return Range{}, fmt.Errorf("rangeindex: parse cidr %q: %w", s, err)
	}
	return RangeFromPrefix(p)
}

// RangeFromPrefix：netip.Prefix 转闭区间（仅 IPv4）
func RangeFromPrefix(p netip.Prefix) (Range, error) {
	if !p.Addr().Unmap().Is4() {
		return Range{}, fmt.Errorf("%w: %s", ErrNotIPv4, p)
	}
	if p.Addr().Is4In6() {
		bits := p.Bits() - 96
		if bits < 0 {
			return Range{}, fmt.Errorf("%w: %s", ErrNotIPv4, p)
		}
		p = netip.PrefixFrom(p.Addr().Unmap(), bits)
	}
	ipr := netipx.RangeOfPrefix(p.Masked())
	start, _ := AddressFromNetip(ipr.From())
	end, _ := AddressFromNetip(ipr.To())
	return Range{Start: start, End: end}, nil
}

// Valid：Start <= End
func (r Range) Valid() bool { return r.Start <= r.End }

// Contains：点包含（两端均闭）
func (r Range) Contains(a Address) bool { return a >= r.Start && a <= r.End }

// Encloses：r 是否完全覆盖 o（相等也视为覆盖）
func (r Range) Encloses(o Range) bool { return r.Start <= o.Start && o.End <= r.End }

// Overlaps：闭区间是否相交
func (r Range) Overlaps(o Range) bool { return r.Start <= o.End && o.Start <= r.End }

func (r Range) String() string { return r.Start.String() + "-" + r.End.String() }

// Record：一个地址段及其数据源提供的属性
// 约束：构建后视为只读；NewRecord 会复制属性表，调用方后续修改原 map 不影响记录
type Record struct {
	Range Range
	Attrs map[string]string
}

// NewRecord：复制属性表构造记录
func NewRecord(r Range, attrs map[string]string) Record {
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return Record{Range: r, Attrs: cp}
}

// Attr：读取单个属性
func (r Record) Attr(key string) (string, bool) {
	v, ok := r.Attrs[key]
	return v, ok
}
