package api

import (
	"fmt"
	"html"
	"strings"

	"ipinfo/internal/lookup"
	"ipinfo/internal/rangeindex"
	"ipinfo/internal/sources"
)

// ASNSource：提供 ASN 信息的数据源名
const ASNSource = "THYME"

// cloudSources：按优先级排列的云厂商数据源与展示名
var cloudSources = []struct{ source, label string }{
	{"GoogleCloud", "Google"},
	{"AWS", "AWS"},
	{"AZURE", "Azure"},
}

// Greeting：问候页 HTML
// 约束：按数据源判断命中（含拆分子绑定，如 AWS:EC2）；上游文本经 HTML 转义
func Greeting(addr rangeindex.Address, rs *lookup.ResultSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Hello %s</h1>", addr)
	if rs.HasAnyFromSource(ASNSource) {
		fmt.Fprintf(&b, "A warm welcome to %s, (ASN: %s)<br>",
			html.EscapeString(sourceAttr(rs, ASNSource, sources.KeyASNOrg)),
			html.EscapeString(sourceAttr(rs, ASNSource, sources.KeyASN)))
	}
	if cloud, ok := CloudName(rs); ok {
		fmt.Fprintf(&b, "Greetings to our friends in the %s cloud.<br>", cloud)
	}
	return b.String()
}

// CloudName：命中的云厂商展示名，Google 优先于 AWS 优先于 Azure
func CloudName(rs *lookup.ResultSet) (string, bool) {
	for _, c := range cloudSources {
		if rs.HasAnyFromSource(c.source) {
			return c.label, true
		}
	}
	return "", false
}

func sourceAttr(rs *lookup.ResultSet, source, key string) string {
	for _, n := range rs.SourceNames(source) {
		if v, ok := rs.Attribute(n, key); ok {
			return v
		}
	}
	return ""
}
