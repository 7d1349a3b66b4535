package lookup

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"ipinfo/internal/rangeindex"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResultSet：单次查询的结果（绑定名 -> 命中记录）；只包含真正命中的绑定
type ResultSet struct {
	addr    rangeindex.Address
	matches map[string]rangeindex.Record
}

func newResultSet(addr rangeindex.Address) *ResultSet {
	return &ResultSet{addr: addr, matches: make(map[string]rangeindex.Record)}
}

func (rs *ResultSet) add(name string, rec rangeindex.Record) { rs.matches[name] = rec }

func (rs *ResultSet) Address() rangeindex.Address { return rs.addr }

func (rs *ResultSet) HasMatchFrom(name string) bool {
	_, ok := rs.matches[name]
	return ok
}

func (rs *ResultSet) RecordFrom(name string) (rangeindex.Record, bool) {
	r, ok := rs.matches[name]
	return r, ok
}

// Attribute：读取某绑定命中记录的属性；未命中或无该属性返回 false
func (rs *ResultSet) Attribute(name, key string) (string, bool) {
	r, ok := rs.matches[name]
	if !ok {
		return "", false
	}
	return r.Attr(key)
}

// BindingNames：命中的绑定名（排序）
func (rs *ResultSet) BindingNames() []string {
	out := make([]string, 0, len(rs.matches))
	for n := range rs.matches {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (rs *ResultSet) Len() int { return len(rs.matches) }

// HasAnyFromSource：命中来自该数据源本身或其任一拆分子绑定（"<source>:*"）
func (rs *ResultSet) HasAnyFromSource(source string) bool {
	return len(rs.SourceNames(source)) > 0
}

// SourceNames：来自该数据源的命中绑定名（排序）
func (rs *ResultSet) SourceNames(source string) []string {
	var out []string
	prefix := source + ":"
	for n := range rs.matches {
		if n == source || strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

type matchJSON struct {
	Range string            `json:"range"`
	Attrs map[string]string `json:"attrs"`
}

type resultJSON struct {
	IP      string               `json:"ip"`
	Matches map[string]matchJSON `json:"matches"`
}

// MarshalJSON：{"ip": "...", "matches": {"<binding>": {"range": "a-b", "attrs": {...}}}}
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	out := resultJSON{IP: rs.addr.String(), Matches: make(map[string]matchJSON, len(rs.matches))}
	for n, r := range rs.matches {
		attrs := r.Attrs
		if attrs == nil {
			attrs = map[string]string{}
		}
		out.Matches[n] = matchJSON{Range: r.Range.String(), Attrs: attrs}
	}
	return json.Marshal(out)
}
