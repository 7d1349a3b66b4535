// 包 logger：http访问日志中间件，记录方法、路径、状态、耗时、字节数与客户端地址
package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// statusWriter：包装 ResponseWriter 以捕获状态码与写出字节数
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// ClientIPFunc：从请求解析客户端地址（可信代理链路下取转发头中的真实地址）
type ClientIPFunc func(r *http.Request) string

// AccessMiddleware：生成访问日志中间件
// 约束：不读取请求体；clientIP 为 nil 时记录 RemoteAddr
func AccessMiddleware(l *slog.Logger, clientIP ClientIPFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			ip := r.RemoteAddr
			if clientIP != nil {
				ip = clientIP(r)
			}
			l.Debug("http_access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", ip,
			)
		})
	}
}
