// 包 config：进程配置（环境变量）与数据源清单（YAML 文件）
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config：服务与命令行共用的进程配置
// 背景：与既有部署保持一致，全部来自环境变量（main 中先加载 .env 与 data/env/.env）
type Config struct {
	Addr          string
	APIBase       string
	SourcesFile   string
	RefreshPeriod time.Duration
	FetchTimeout  time.Duration

	CacheEnable   bool
	CacheTTL      time.Duration
	StatsDBEnable bool

	RateLimitEnabled bool
	RateLimitQPS     float64
	RateLimitBurst   int

	TrustedProxies []string
	RemoteIPHeader string

	AdminToken      string
	AdminAllowIPs   []string
	AdminAllowCIDRs []string
	AdminAllowLocal bool

	TLSEnable   bool
	TLSCertPath string
	TLSKeyPath  string

	// TLSRedirectAddr 非空时额外监听该地址，将 HTTP 请求重定向到 HTTPS
	TLSRedirectAddr string
}

// FromEnv：读取环境变量并填充默认值
// 约束：无法解析的数值/时长回退默认值，不中断启动
func FromEnv() Config {
	return Config{
		Addr:          env("ADDR", ":8080"),
		APIBase:       strings.TrimRight(env("API_BASE", "/api"), "/"),
		SourcesFile:   env("SOURCES_FILE", filepath.Join("data", "sources.yaml")),
		RefreshPeriod: envDuration("REFRESH_PERIOD", 24*time.Hour),
		FetchTimeout:  envDuration("FETCH_TIMEOUT", 60*time.Second),

		CacheEnable:   envBool("CACHE_ENABLE", false),
		CacheTTL:      envDuration("CACHE_TTL", 10*time.Minute),
		StatsDBEnable: envBool("STATS_DB_ENABLE", false),

		RateLimitEnabled: envBool("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:     envFloat("RATE_LIMIT_QPS", 50),
		RateLimitBurst:   envInt("RATE_LIMIT_BURST", 100),

		TrustedProxies: envList("TRUSTED_PROXIES"),
		RemoteIPHeader: env("REMOTE_IP_HEADER", "X-Forwarded-For"),

		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		AdminAllowIPs:   envList("ADMIN_ALLOW_IPS"),
		AdminAllowCIDRs: envList("ADMIN_ALLOW_CIDRS"),
		AdminAllowLocal: envBool("ADMIN_ALLOW_LOCAL", true),

		TLSEnable:   envBool("TLS_ENABLE", false),
		TLSCertPath: env("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:  env("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),

		TLSRedirectAddr: redirectAddr(),
	}
}

// redirectAddr：TLS_REDIRECT_ENABLE=true 时取 TLS_REDIRECT_ADDR（默认 :80）
func redirectAddr() string {
	if !envBool("TLS_REDIRECT_ENABLE", false) {
		return ""
	}
	return env("TLS_REDIRECT_ADDR", ":80")
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil && f > 0 {
		return f
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil && d > 0 {
		return d
	}
	return def
}

// envList：逗号分隔列表，去除空白与空项
func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// 数据源类型
const (
	KindAPNIC  = "apnic"
	KindAWS    = "aws"
	KindAzure  = "azure"
	KindGCloud = "gcloud"
	KindMMDB   = "mmdb"
	KindIPDB   = "ipdb"
)

// 刷新模式
const (
	ModeEager    = "eager"
	ModePeriodic = "periodic"
)

var ErrInvalidSource = errors.New("config: invalid source")

// SourceConfig：数据源清单中的一项
type SourceConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Mode        string `yaml:"mode"`
	Period      string `yaml:"period"`
	PartitionBy string `yaml:"partition_by"`
	Enabled     *bool  `yaml:"enabled"`
	URL         string `yaml:"url"`
	OrgURL      string `yaml:"org_url"`
	PageURL     string `yaml:"page_url"`
	File        string `yaml:"file"`
	Domain      string `yaml:"domain"`
	Language    string `yaml:"language"`

	// Every：解析后的刷新周期（Period 为空时取 REFRESH_PERIOD）
	Every time.Duration `yaml:"-"`
}

// IsEnabled：未显式关闭即启用
func (s SourceConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

var defaultNames = map[string]string{
	KindAPNIC:  "THYME",
	KindAWS:    "AWS",
	KindAzure:  "AZURE",
	KindGCloud: "GoogleCloud",
	KindIPDB:   "IPIP",
}

// DefaultSources：未提供清单文件时的内置数据源
func DefaultSources(period time.Duration) []SourceConfig {
	return []SourceConfig{
		{Name: "THYME", Kind: KindAPNIC, Mode: ModePeriodic, Every: period},
		{Name: "AWS", Kind: KindAWS, Mode: ModePeriodic, PartitionBy: "service", Every: period},
		{Name: "AZURE", Kind: KindAzure, Mode: ModePeriodic, Every: period},
		{Name: "GoogleCloud", Kind: KindGCloud, Mode: ModePeriodic, Every: period},
	}
}

// LoadSources：读取并校验数据源清单
// 背景：文件不存在时使用内置默认清单；其余读取或解析错误直接返回
func LoadSources(path string, defaultPeriod time.Duration) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSources(defaultPeriod), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(data, defaultPeriod)
}

// ParseSources：解析 YAML 清单，补全默认值并逐项校验
func ParseSources(data []byte, defaultPeriod time.Duration) ([]SourceConfig, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	out := make([]SourceConfig, 0, len(f.Sources))
	for i, s := range f.Sources {
		if err := normalize(&s, defaultPeriod); err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %v", ErrInvalidSource, i, s.Name, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: entry %d (%s): duplicate name", ErrInvalidSource, i, s.Name)
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}

func normalize(s *SourceConfig, defaultPeriod time.Duration) error {
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	if s.Name == "" {
		s.Name = defaultNames[s.Kind]
	}
	switch s.Kind {
	case KindAPNIC, KindAWS, KindAzure, KindGCloud:
	case KindMMDB, KindIPDB:
		if s.File == "" {
			return fmt.Errorf("%s requires file", s.Kind)
		}
	case "":
		return errors.New("missing kind")
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if s.Name == "" {
		return errors.New("missing name")
	}
	if strings.Contains(s.Name, ":") {
		return errors.New("name must not contain ':'")
	}
	switch strings.ToLower(s.Mode) {
	case "", ModePeriodic:
		s.Mode = ModePeriodic
	case ModeEager:
		s.Mode = ModeEager
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	s.Every = defaultPeriod
	if s.Period != "" {
		d, err := time.ParseDuration(s.Period)
		if err != nil {
			return fmt.Errorf("bad period: %v", err)
		}
		if d <= 0 {
			return errors.New("period must be positive")
		}
		s.Every = d
	}
	return nil
}
