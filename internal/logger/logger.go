// 包 logger：统一初始化与获取日志器，避免各模块重复配置；通过环境变量控制日志级别与输出格式
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 默认日志器：进程级复用；刷新协程与请求路径并发读取，使用原子指针
var defaultLogger atomic.Pointer[slog.Logger]

// Level：解析 LOG_LEVEL（debug/info/warn/error），未知值回退 info
func Level(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup：按环境变量初始化默认日志器
// 背景：集中化日志配置，服务进程与命令行工具共用
// 约束：输出到标准错误；LOG_FILE 非空时同时写入按大小轮转的日志文件
// LOG_FORMAT=json 输出结构化日志，LOG_FORMAT=pretty 使用彩色终端格式（交互式命令行）
func Setup() *slog.Logger {
	var w io.Writer = os.Stderr
	if f := strings.TrimSpace(os.Getenv("LOG_FILE")); f != "" {
		w = io.MultiWriter(os.Stderr, RotatingFile(f))
	}
	return SetupWriter(w, os.Getenv("LOG_FORMAT"), Level(os.Getenv("LOG_LEVEL")))
}

// RotatingFile：10MB 轮转，保留 3 份、28 天，旧文件压缩
func RotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// SetupWriter：以指定输出、格式与级别初始化默认日志器
func SetupWriter(w io.Writer, format string, lvl slog.Level) *slog.Logger {
	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		h = charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(lvl),
			ReportTimestamp: true,
		})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	l := slog.New(h)
	defaultLogger.Store(l)
	return l
}

// Discard：丢弃全部输出的日志器（测试使用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// L：获取默认日志器；未初始化时回退到 Setup
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return Setup()
}
