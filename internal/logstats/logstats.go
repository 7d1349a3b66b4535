// 包 logstats：按访问日志中的客户端 IP 统计各数据源命中情况
package logstats

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"ipinfo/internal/lookup"
	"ipinfo/internal/rangeindex"
	"ipinfo/internal/sources"
)

// TopOrgs：报告中列出的组织数量上限
const TopOrgs = 50

// ASNSource：提供组织信息的数据源名
const ASNSource = "THYME"

// Querier：按地址查询全部绑定（*lookup.Aggregator 实现）
type Querier interface {
	Query(addr rangeindex.Address) *lookup.ResultSet
}

// OrgCount：组织及其出现次数
type OrgCount struct {
	Org   string
	Count int
}

// Report：统计结果
type Report struct {
	Rows      int
	ByBinding map[string]int
	Orgs      map[string]int
	// NoInfo：无任何命中或无法解析的 IP（保持日志顺序）
	NoInfo []string
}

// Analyze：逐行读取日志，每个非空行的第一个空白分隔字段视为客户端 IP
func Analyze(r io.Reader, q Querier) (*Report, error) {
	rep := &Report{ByBinding: map[string]int{}, Orgs: map[string]int{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		rep.Rows++
		ip := fields[0]
		addr, err := rangeindex.ParseAddress(ip)
		if err != nil {
			rep.NoInfo = append(rep.NoInfo, ip)
			continue
		}
		rs := q.Query(addr)
		names := rs.BindingNames()
		if len(names) == 0 {
			rep.NoInfo = append(rep.NoInfo, ip)
			continue
		}
		for _, n := range names {
			rep.ByBinding[n]++
		}
		for _, n := range rs.SourceNames(ASNSource) {
			if org, ok := rs.Attribute(n, sources.KeyASNOrg); ok {
				rep.Orgs[org]++
				break
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rep, nil
}

// Top：按次数降序（同次数按名称升序）的前 n 个组织
func (rep *Report) Top(n int) []OrgCount {
	out := make([]OrgCount, 0, len(rep.Orgs))
	for o, c := range rep.Orgs {
		out = append(out, OrgCount{Org: o, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Org < out[j].Org
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Write：输出文本报告
func (rep *Report) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Top organisations:")
	for i, oc := range rep.Top(TopOrgs) {
		fmt.Fprintf(bw, "%d\t%s\t%s\n", i, humanize.Comma(int64(oc.Count)), oc.Org)
	}
	fmt.Fprintf(bw, "All rows: %s\n", humanize.Comma(int64(rep.Rows)))
	fmt.Fprintln(bw, "Matches by binding:")
	names := make([]string, 0, len(rep.ByBinding))
	for n := range rep.ByBinding {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(bw, "\t%s\t%s\n", n, humanize.Comma(int64(rep.ByBinding[n])))
	}
	fmt.Fprintf(bw, "IPs with no infos (%s): %s\n", humanize.Comma(int64(len(rep.NoInfo))), strings.Join(rep.NoInfo, " "))
	return bw.Flush()
}
