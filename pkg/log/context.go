package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type contextKey string

const cycleContextKey contextKey = "sysmgmt_cycle_context"

// CycleContext 携带一次探测周期的追踪信息
type CycleContext struct {
	CycleID   string    // 10-char base36 id, e.g. mgrn0zfqda
	Trigger   string    // "scheduled" or "manual"
	StartTime time.Time
}

var (
	randSource  = rand.NewSource(time.Now().UnixNano())
	randMutex   sync.Mutex
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateCycleID returns a short random id for correlating one probe cycle.
func GenerateCycleID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithCycle attaches a new CycleContext to ctx.
func WithCycle(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, cycleContextKey, &CycleContext{
		CycleID:   GenerateCycleID(),
		Trigger:   trigger,
		StartTime: time.Now(),
	})
}

// GetCycleContext returns the CycleContext stored in ctx, or a placeholder.
func GetCycleContext(ctx context.Context) *CycleContext {
	if ctx != nil {
		if c, ok := ctx.Value(cycleContextKey).(*CycleContext); ok {
			return c
		}
	}
	return &CycleContext{CycleID: "unknown"}
}

// GetCycleID 便捷方法
func GetCycleID(ctx context.Context) string {
	return GetCycleContext(ctx).CycleID
}

// GetElapsedTime returns milliseconds since the cycle started.
func GetElapsedTime(ctx context.Context) int64 {
	c := GetCycleContext(ctx)
	if c.StartTime.IsZero() {
		return 0
	}
	return time.Since(c.StartTime).Milliseconds()
}
