package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper
// 自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, typ string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", typ)
}

// Probe 记录单次探测结果（🩺）
func (h *LogHelper) Probe(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "probe", kvs)...)
}

// Availability 记录可用性缓存变化（📡）
func (h *LogHelper) Availability(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "availability", kvs)...)
}

// Circuit logs a breaker state transition at warn level so it survives
// production log levels.
func (h *LogHelper) Circuit(from, to, trigger string, kvs ...interface{}) {
	msg := fmt.Sprintf("Circuit breaker %s -> %s (%s)", from, to, trigger)
	all := withType(msg, "circuit", kvs)
	all = append(all, "from_state", from, "to_state", to, "trigger", trigger)
	h.Warnw(all...)
}

// Scheduler 记录调度器相关日志（🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// Startup 记录启动相关日志（🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Redis 记录 Redis 操作日志（📦）
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

// Database 记录数据库操作日志（💾）
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "database", kvs)...)
}

// Degraded logs a store failure that was absorbed instead of surfaced.
func (h *LogHelper) Degraded(msg string, err error, kvs ...interface{}) {
	all := withType(msg, "degraded", kvs)
	all = append(all, "error", err)
	h.Warnw(all...)
}

// Notify 记录事件投递日志（📣）
func (h *LogHelper) Notify(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "notify", kvs)...)
}

// Request 记录 HTTP 请求日志（表情符号根据状态码）
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	all := withType(msg, "request", kvs)
	all = append(all, "method", method, "url", url, "status", status, "duration_ms", durationMs)
	h.Infow(all...)
}

// CycleCompleted summarises one probe cycle using the cycle id carried by ctx.
func (h *LogHelper) CycleCompleted(ctx context.Context, probed, healthy, unhealthy, skipped int, kvs ...interface{}) {
	c := GetCycleContext(ctx)
	elapsed := GetElapsedTime(ctx)
	msg := fmt.Sprintf("[%s] Probe cycle completed | probed: %d, healthy: %d, unhealthy: %d, skipped: %d | %dms",
		c.CycleID, probed, healthy, unhealthy, skipped, elapsed)
	all := withType(msg, "cycle", kvs)
	all = append(all,
		"cycle_id", c.CycleID,
		"trigger", c.Trigger,
		"probed", probed,
		"healthy", healthy,
		"unhealthy", unhealthy,
		"skipped", skipped,
		"duration_ms", elapsed,
	)
	h.Infow(all...)
}

// SlowProbe warns about a probe that exceeded thresholdMs.
func (h *LogHelper) SlowProbe(ctx context.Context, dependencyID string, latencyMs, thresholdMs int64, kvs ...interface{}) {
	cycleID := GetCycleID(ctx)
	msg := fmt.Sprintf("[%s] Slow probe | %s | %dms (threshold: %dms)", cycleID, dependencyID, latencyMs, thresholdMs)
	all := withType(msg, "slow_probe", kvs)
	all = append(all,
		"cycle_id", cycleID,
		"dependency_id", dependencyID,
		"latency_ms", latencyMs,
		"threshold_ms", thresholdMs,
	)
	h.Warnw(all...)
}

// CacheStats 记录本地缓存统计信息（🧹）
func (h *LogHelper) CacheStats(cacheName string, size, maxSize int, hits, misses int64, kvs ...interface{}) {
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	msg := fmt.Sprintf("Cache stats - %s | Size: %d/%d, Hit Rate: %.2f%%", cacheName, size, maxSize, hitRate)
	all := withType(msg, "cache_stats", kvs)
	all = append(all,
		"cache_name", cacheName,
		"size", size,
		"max_size", maxSize,
		"hits", hits,
		"misses", misses,
		"hit_rate", fmt.Sprintf("%.2f%%", hitRate),
	)
	h.Debugw(all...)
}
