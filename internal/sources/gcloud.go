package sources

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"ipinfo/internal/binding"
	"ipinfo/internal/logger"
	"ipinfo/internal/rangeindex"
)

const (
	KeyGroup = "group"

	GoogleCloudDomain = "_cloud-netblocks.googleusercontent.com"

	spfPrefix     = "v=spf1"
	includePrefix = "include:"
	ip4Prefix     = "ip4:"
)

// TXTResolver：查询域名的 TXT 记录
type TXTResolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// DNSResolver：基于 miekg/dns 的 TXT 查询，UDP 截断时回退 TCP
type DNSResolver struct {
	Server string
	Client *dns.Client
}

// NewDNSResolver：使用 /etc/resolv.conf 中的第一个上游；server 非空时直接使用
func NewDNSResolver(server string, timeout time.Duration) (*DNSResolver, error) {
	if server == "" {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("read resolv.conf: %w", err)
		}
		if len(cfg.Servers) == 0 {
			return nil, fmt.Errorf("resolv.conf: no nameserver")
		}
		server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{Server: server, Client: &dns.Client{Timeout: timeout}}, nil
}

func (r *DNSResolver) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	m.RecursionDesired = true
	in, _, err := r.Client.ExchangeContext(ctx, m, r.Server)
	if err == nil && in.Truncated {
		tcp := *r.Client
		tcp.Net = "tcp"
		in, _, err = tcp.ExchangeContext(ctx, m, r.Server)
	}
	if err != nil {
		return nil, fmt.Errorf("txt %s: %w", domain, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("txt %s: %s", domain, dns.RcodeToString[in.Rcode])
	}
	var out []string
	for _, rr := range in.Answer {
		if t, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	return out, nil
}

// GoogleCloud：通过 SPF TXT 记录发现 Google Cloud 网段
// 背景：根域列出 include: 子域，每个子域列出 ip4: 网段；group 为所在子域
type GoogleCloud struct {
	name     string
	domain   string
	resolver TXTResolver
}

func NewGoogleCloud(name, domain string, resolver TXTResolver) *GoogleCloud {
	if domain == "" {
		domain = GoogleCloudDomain
	}
	return &GoogleCloud{name: name, domain: domain, resolver: resolver}
}

func (s *GoogleCloud) Name() string { return s.name }

func (s *GoogleCloud) FetchRecords(ctx context.Context) ([]rangeindex.Record, error) {
	groups, err := s.spf(ctx, s.domain, includePrefix)
	if err != nil {
		return nil, binding.Fail(s.name, err)
	}
	var out []rangeindex.Record
	for _, g := range groups {
		cidrs, err := s.spf(ctx, g, ip4Prefix)
		if err != nil {
			return nil, binding.Fail(s.name, err)
		}
		for _, c := range cidrs {
			rng, err := rangeindex.ParseCIDR(c)
			if err != nil {
				return nil, binding.Fail(s.name, fmt.Errorf("%s: %w", g, err))
			}
			out = append(out, rangeindex.NewRecord(rng, map[string]string{KeyGroup: g}))
		}
	}
	logger.L().Info("source_fetch_ok", "source", s.name, "groups", len(groups), "records", len(out))
	return out, nil
}

// spf：取 domain 的 SPF 记录中以 prefix 开头的项（去掉前缀）
func (s *GoogleCloud) spf(ctx context.Context, domain, prefix string) ([]string, error) {
	txts, err := s.resolver.LookupTXT(ctx, domain)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, txt := range txts {
		txt = strings.Trim(txt, `"'`)
		logger.L().Debug("source_txt_record", "source", s.name, "domain", domain, "txt", txt)
		if !strings.HasPrefix(txt, spfPrefix) {
			continue
		}
		for _, tok := range strings.Split(txt, " ") {
			if strings.HasPrefix(tok, prefix) {
				out = append(out, tok[len(prefix):])
			}
		}
	}
	return out, nil
}
