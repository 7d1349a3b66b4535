package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ipinfo/internal/binding"
	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

// APNIC 属性键与默认地址
const (
	KeyASN     = "ASN"
	KeyASNOrg  = "ASNORG"
	UnknownOrg = "unknown"

	APNICOrgsURL  = "http://thyme.apnic.net/current/data-used-autnums"
	APNICTableURL = "http://thyme.apnic.net/current/data-raw-table"
)

// APNIC：APNIC 路由表（网段 -> ASN）与 ASN 组织名列表的组合
type APNIC struct {
	name  string
	orgs  Opener
	table Opener
}

func NewAPNIC(name string, orgs, table Opener) *APNIC {
	return &APNIC{name: name, orgs: orgs, table: table}
}

func (s *APNIC) Name() string { return s.name }

// FetchRecords：先加载 ASN -> 组织名，再逐行解析 "cidr<TAB>asn"
// 约束：任一行格式错误即本轮失败；找不到组织名的 ASN 记为 unknown
func (s *APNIC) FetchRecords(ctx context.Context) ([]rangeindex.Record, error) {
	l := logger.L().With("source", s.name)
	l.Info("source_fetch_begin", "orgs", s.orgs.String(), "table", s.table.String())
	orgs, err := s.loadOrgs(ctx)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	rc, err := s.table.Open(ctx)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	defer rc.Close()
	records, err := parseRawTable(rc, orgs)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	l.Info("source_fetch_ok", "orgs", len(orgs), "records", len(records))
	return records, nil
}

func (s *APNIC) loadOrgs(ctx context.Context) (map[int]string, error) {
	rc, err := s.orgs.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return parseAutnums(rc)
}

// parseAutnums：解析 data-used-autnums
// 背景：文件为右对齐 ASN 列 + 空格 + 组织名（"   13 DNIC-AS-00013 - ..., US"）；以第一个空白切分，兼容超过 5 位的 ASN
func parseAutnums(r io.Reader) (map[int]string, error) {
	out := make(map[int]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		asnText, org, _ := strings.Cut(line, " ")
		asn, err := strconv.Atoi(asnText)
		if err != nil {
			return nil, fmt.Errorf("autnums line %d: bad asn %q", n, asnText)
		}
		out[asn] = strings.TrimSpace(org)
	}
	return out, sc.Err()
}

// parseRawTable：解析 data-raw-table（"cidr<TAB>asn"）
func parseRawTable(r io.Reader, orgs map[int]string) ([]rangeindex.Record, error) {
	var out []rangeindex.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cidr, asnText, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("raw table line %d: missing tab", n)
		}
		rng, err := rangeindex.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("raw table line %d: %w", n, err)
		}
		asn, err := strconv.Atoi(strings.TrimSpace(asnText))
		if err != nil {
			return nil, fmt.Errorf("raw table line %d: bad asn %q", n, asnText)
		}
		org, ok := orgs[asn]
		if !ok {
			org = UnknownOrg
		}
		out = append(out, rangeindex.NewRecord(rng, map[string]string{
			KeyASN:    strconv.Itoa(asn),
			KeyASNOrg: org,
		}))
	}
	return out, sc.Err()
}
