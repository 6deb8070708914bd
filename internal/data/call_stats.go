package data

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// callTailSize caps the sorted set of raw samples. Only the failure streak
// is read from it, so it never needs more than the newest few hundred calls.
const callTailSize = 256

// bucket field kinds: calls, failures, latency sum
const (
	bucketCalls    = "n"
	bucketFailures = "f"
	bucketLatency  = "l"
)

// CallStatsRepo keeps a sliding window of calls per dependency:
//
//	circuit-breaker:calls:{id}          → zset of the newest samples "{uuid}|{0|1}|{latencyMs}", score unix ms
//	circuit-breaker:calls:{id}:buckets  → hash "{unixSec}:{n|f|l}" → counter
//
// Rates and latency come from the buckets, whose size is bounded by the
// window length rather than the call rate.
type CallStatsRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewCallStatsRepo creates a new call statistics repository.
func NewCallStatsRepo(d *Data, logger log.Logger) *CallStatsRepo {
	return &CallStatsRepo{
		rdb:    d.RedisClient(),
		logger: log.NewHelper(log.With(logger, "module", "data/call_stats")),
	}
}

// Record adds one call sample. Keys live for twice the window so idle
// dependencies clean themselves up.
func (r *CallStatsRepo) Record(ctx context.Context, id string, success bool, latencyMs int64, at time.Time, window time.Duration) error {
	if r.rdb == nil {
		return ErrStoreUnavailable
	}

	tailKey := circuitCallsKey(id)
	bucketsKey := circuitBucketsKey(id)
	flag := "0"
	if success {
		flag = "1"
	}
	member := fmt.Sprintf("%s|%s|%d", uuid.NewString(), flag, latencyMs)
	sec := at.Unix()

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, tailKey, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.ZRemRangeByRank(ctx, tailKey, 0, -(callTailSize + 1))
		pipe.HIncrBy(ctx, bucketsKey, bucketField(sec, bucketCalls), 1)
		if !success {
			pipe.HIncrBy(ctx, bucketsKey, bucketField(sec, bucketFailures), 1)
		}
		pipe.HIncrBy(ctx, bucketsKey, bucketField(sec, bucketLatency), latencyMs)
		pipe.Expire(ctx, tailKey, 2*window)
		pipe.Expire(ctx, bucketsKey, 2*window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record call for %s: %w", id, err)
	}
	return nil
}

// Sample aggregates the buckets inside the window and drops older ones. An
// empty window yields zero rates and a 100% success rate.
func (r *CallStatsRepo) Sample(ctx context.Context, id string, window time.Duration, now time.Time) (*model.CallStats, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	tailKey := circuitCallsKey(id)
	bucketsKey := circuitBucketsKey(id)
	from := now.Add(-window)

	var tailCmd *redis.StringSliceCmd
	var bucketsCmd *redis.MapStringStringCmd
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, tailKey, "-inf", "("+strconv.FormatInt(from.UnixMilli(), 10))
		tailCmd = pipe.ZRevRangeByScore(ctx, tailKey, &redis.ZRangeBy{
			Min: strconv.FormatInt(from.UnixMilli(), 10),
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		})
		bucketsCmd = pipe.HGetAll(ctx, bucketsKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sample calls for %s: %w", id, err)
	}

	stats, stale := aggregateBuckets(id, bucketsCmd.Val(), from.Unix(), now.Unix(), window)
	if stats.TotalCalls > 0 {
		stats.ConsecutiveFailures = trailingFailures(tailCmd.Val())
	}
	if len(stale) > 0 {
		if err := r.rdb.HDel(ctx, bucketsKey, stale...).Err(); err != nil {
			r.logger.Warnf("Failed to drop %d stale call buckets for %s: %v", len(stale), id, err)
		}
	}
	return stats, nil
}

func bucketField(sec int64, kind string) string {
	return strconv.FormatInt(sec, 10) + ":" + kind
}

// aggregateBuckets folds the counters of seconds [from, to] into CallStats
// and returns the fields older than from.
func aggregateBuckets(id string, fields map[string]string, from, to int64, window time.Duration) (*model.CallStats, []string) {
	stats := &model.CallStats{DependencyID: id, SuccessRate: 100}

	var calls, failures, latencySum int64
	var stale []string
	for field, raw := range fields {
		secStr, kind, ok := strings.Cut(field, ":")
		sec, err := strconv.ParseInt(secStr, 10, 64)
		if !ok || err != nil {
			stale = append(stale, field)
			continue
		}
		if sec < from {
			stale = append(stale, field)
			continue
		}
		if sec > to {
			continue
		}
		v, _ := strconv.ParseInt(raw, 10, 64)
		switch kind {
		case bucketCalls:
			calls += v
		case bucketFailures:
			failures += v
		case bucketLatency:
			latencySum += v
		}
	}

	if calls == 0 {
		return stats, stale
	}

	stats.TotalCalls = int(calls)
	stats.FailureCount = int(failures)
	if minutes := window.Minutes(); minutes > 0 {
		stats.CallsPerMinute = float64(calls) / minutes
	}
	stats.SuccessRate = float64(calls-failures) / float64(calls) * 100
	stats.FailureRate = 100 - stats.SuccessRate
	stats.AvgLatencyMs = float64(latencySum) / float64(calls)
	return stats, stale
}

// trailingFailures counts failed samples from the newest one backwards.
func trailingFailures(newestFirst []string) int {
	n := 0
	for _, m := range newestFirst {
		parts := strings.Split(m, "|")
		if len(parts) != 3 {
			continue
		}
		if parts[1] == "1" {
			break
		}
		n++
	}
	return n
}
