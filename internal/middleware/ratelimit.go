package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"ipinfo/internal/logger"
	"ipinfo/internal/metrics"
)

// 文档注释：入口令牌桶限流中间件
// 背景：在流量峰值时对入口进行限速，保护查询路径与 Redis/数据库；按环境变量开关与速率配置。
// 约束：不做排队，超限直接返回 429；qps<=0 时不限流。
func RateLimit(qps float64, burst int) func(http.Handler) http.Handler {
	if qps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = int(qps)
		if burst < 1 {
			burst = 1
		}
	}
	lim := rate.NewLimiter(rate.Limit(qps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				metrics.RateLimitedTotal.Inc()
				logger.L().Debug("rate_limited", "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
