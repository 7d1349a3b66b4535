package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000}

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipinfo_requests_total",
		Help: "Total number of /ip lookup requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ipinfo_request_duration_ms",
		Help:    "Lookup request duration in milliseconds",
		Buckets: durationBuckets,
	})
	EmptyResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipinfo_empty_results_total",
		Help: "Total number of lookups without any binding match",
	})
	LookupMatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipinfo_lookup_matches_total",
		Help: "Total lookup matches by binding",
	}, []string{"binding"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipinfo_cache_hits_total",
		Help: "Total redis result cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipinfo_cache_misses_total",
		Help: "Total redis result cache misses",
	})
	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipinfo_refresh_total",
		Help: "Refresh cycles by binding and status",
	}, []string{"binding", "status"})
	RefreshDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ipinfo_refresh_duration_ms",
		Help:    "Refresh cycle duration in milliseconds (fetch and index build)",
		Buckets: []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 120000},
	}, []string{"binding"})
	IndexEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ipinfo_index_entries",
		Help: "Entries in the currently visible range index",
	}, []string{"binding"})
	IndexOverlapAnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipinfo_index_overlap_anomalies_total",
		Help: "Partially overlapping source records discarded during index builds",
	}, []string{"binding"})
	SourceBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipinfo_source_bytes_total",
		Help: "Bytes read from upstream range sources",
	}, []string{"source"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipinfo_rate_limited_total",
		Help: "Requests rejected by the inbound rate limiter",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(EmptyResultsTotal)
	prometheus.MustRegister(LookupMatchesTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(RefreshTotal)
	prometheus.MustRegister(RefreshDurationMs)
	prometheus.MustRegister(IndexEntries)
	prometheus.MustRegister(IndexOverlapAnomaliesTotal)
	prometheus.MustRegister(SourceBytesTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
