package sources

import (
	"fmt"
	"net/http"

	"ipinfo/internal/binding"
	"ipinfo/internal/config"
)

// FromConfig：按清单项构建数据源适配器
// 约束：url/org_url/page_url 可指向本地文件（非 http(s) 前缀），用于离线副本
func FromConfig(cfg config.SourceConfig, client *http.Client) (binding.Source, error) {
	switch cfg.Kind {
	case config.KindAPNIC:
		orgs := or(cfg.OrgURL, APNICOrgsURL)
		table := or(cfg.URL, APNICTableURL)
		return NewAPNIC(cfg.Name, Locate(orgs, client, cfg.Name), Locate(table, client, cfg.Name)), nil
	case config.KindAWS:
		return NewAWS(cfg.Name, Locate(or(cfg.URL, AWSURL), client, cfg.Name)), nil
	case config.KindAzure:
		// 已知数据文件地址时跳过确认页
		if loc := or(cfg.File, cfg.URL); loc != "" {
			return NewAzure(cfg.Name, Locate(loc, client, cfg.Name)), nil
		}
		return NewAzure(cfg.Name, NewAzureOpener(cfg.PageURL, client, cfg.Name)), nil
	case config.KindGCloud:
		timeout := DefaultTimeout
		if client != nil && client.Timeout > 0 {
			timeout = client.Timeout
		}
		r, err := NewDNSResolver(cfg.URL, timeout)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		return NewGoogleCloud(cfg.Name, cfg.Domain, r), nil
	case config.KindMMDB:
		return NewMMDB(cfg.Name, cfg.File), nil
	case config.KindIPDB:
		return NewIPDB(cfg.Name, cfg.File, cfg.Language), nil
	}
	return nil, fmt.Errorf("source %s: unknown kind %q", cfg.Name, cfg.Kind)
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
