// 包 sources：外部地址段数据源适配器（APNIC、AWS、Azure、Google Cloud、本地 MMDB）
package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"ipinfo/internal/logger"
	"ipinfo/internal/metrics"
)

var (
	// ErrBadStatus：上游返回非 200
	ErrBadStatus = errors.New("sources: unexpected http status")
	// ErrNoLocation：两段式下载未能在页面中找到数据地址
	ErrNoLocation = errors.New("sources: data location not found")
)

// DefaultTimeout：单次 HTTP 拉取的默认超时
const DefaultTimeout = 60 * time.Second

// Opener：按需打开一份原始数据
// 约束：调用方负责 Close；每次 Open 都重新读取（每个刷新周期一次）
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// NewHTTPClient：数据源共用的 HTTP 客户端
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// HTTPOpener：GET 读取响应体
type HTTPOpener struct {
	URL    string
	Client *http.Client
	// Source：用于字节数指标的数据源名
	Source string
}

func (o HTTPOpener) String() string { return "http " + o.URL }

func (o HTTPOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	client := o.Client
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ipinfo/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s from %s", ErrBadStatus, resp.Status, o.URL)
	}
	logger.L().Debug("source_http_open", "source", o.Source, "url", o.URL)
	return &countingBody{rc: resp.Body, source: o.Source, url: o.URL, start: time.Now()}, nil
}

// countingBody：统计读取字节数，关闭时写入指标与日志
type countingBody struct {
	rc     io.ReadCloser
	source string
	url    string
	start  time.Time
	n      atomic.Int64
	closed atomic.Bool
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingBody) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	n := c.n.Load()
	if c.source != "" {
		metrics.SourceBytesTotal.WithLabelValues(c.source).Add(float64(n))
	}
	logger.L().Info("source_http_read", "source", c.source, "url", c.url,
		"size", humanize.Bytes(uint64(n)), "duration_ms", time.Since(c.start).Milliseconds())
	return c.rc.Close()
}

// FileOpener：读取本地文件（离线副本、测试）
type FileOpener struct{ Path string }

func (o FileOpener) String() string { return "file " + o.Path }

func (o FileOpener) Open(context.Context) (io.ReadCloser, error) { return os.Open(o.Path) }

// StringOpener：内存字符串
type StringOpener string

func (o StringOpener) String() string { return fmt.Sprintf("string(%d)", len(o)) }

func (o StringOpener) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(o))), nil
}

// Locate：按位置选择打开方式；http(s) 走网络，其余视为本地路径
func Locate(location string, client *http.Client, source string) Opener {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return HTTPOpener{URL: location, Client: client, Source: source}
	}
	return FileOpener{Path: strings.TrimPrefix(location, "file://")}
}

// TwoStepOpener：先读取页面定位真实数据地址，再打开该地址
// 背景：部分供应商（Azure）只发布带版本号的下载链接，需从确认页中提取
// 约束：逐行扫描，第一条整行匹配 Pattern 的行经 Replace 展开得到地址；没有匹配返回 ErrNoLocation
type TwoStepOpener struct {
	Page    Opener
	Pattern *regexp.Regexp
	Replace string
	Next    func(location string) Opener
}

func (o TwoStepOpener) String() string { return "two-step via " + o.Page.String() }

func (o TwoStepOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	loc, err := o.Locate(ctx)
	if err != nil {
		return nil, err
	}
	logger.L().Info("source_location_found", "page", o.Page.String(), "location", loc)
	return o.Next(loc).Open(ctx)
}

// Locate：仅执行第一步，返回数据地址
func (o TwoStepOpener) Locate(ctx context.Context) (string, error) {
	rc, err := o.Page.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		idx := o.Pattern.FindStringSubmatchIndex(line)
		if idx == nil || idx[0] != 0 || idx[1] != len(line) {
			continue
		}
		return string(o.Pattern.ExpandString(nil, o.Replace, line, idx)), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %s", ErrNoLocation, o.Page.String())
}
