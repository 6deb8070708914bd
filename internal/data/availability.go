package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// maxWatchRetries bounds optimistic retries of a conflicting upsert.
	maxWatchRetries = 3
	scanBatch       = 100
)

// ErrWriteConflict is returned when an upsert lost every WATCH retry.
var ErrWriteConflict = errors.New("data: availability record changed concurrently")

// AvailabilityMutator computes the next record from the stored one (nil when
// absent). Returning a nil record skips the write.
type AvailabilityMutator func(prev *model.AvailabilityRecord) (next *model.AvailabilityRecord, ttl time.Duration, err error)

// AvailabilityRepo implements biz.AvailabilityRepo on Redis. Only unhealthy
// dependencies have a key; TTL expiry is the recovery mechanism.
type AvailabilityRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewAvailabilityRepo creates a new availability repository.
func NewAvailabilityRepo(d *Data, logger log.Logger) *AvailabilityRepo {
	return &AvailabilityRepo{
		rdb:    d.RedisClient(),
		logger: log.NewHelper(log.With(logger, "module", "data/availability")),
	}
}

// Upsert runs mutate inside a WATCH transaction on unhealthy:{id}, retrying up
// to three times when another writer touched the key in between.
func (r *AvailabilityRepo) Upsert(ctx context.Context, id string, mutate AvailabilityMutator) (*model.AvailabilityRecord, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	key := unhealthyKey(id)
	var written *model.AvailabilityRecord

	txf := func(tx *redis.Tx) error {
		written = nil

		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		prev, derr := decodeRecord(raw, err)
		if derr != nil {
			r.logger.Warnf("overwriting malformed record %s: %v", key, derr)
			prev = nil
		}

		next, ttl, err := mutate(prev)
		if err != nil || next == nil {
			return err
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal availability record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err == nil {
			written = next
			written.TTLSeconds = int64(ttl / time.Second)
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("failed to upsert availability record %s: %w", id, err)
		}
		backoff := time.Duration(i+1) * 10 * time.Millisecond
		r.logger.Debugw("msg", "WATCH conflict, retrying", "key", key, "retry", i+1, "backoff", backoff)
		time.Sleep(backoff)
	}

	return nil, ErrWriteConflict
}

// Delete removes the record. It reports whether a record existed.
func (r *AvailabilityRepo) Delete(ctx context.Context, id string) (bool, error) {
	if r.rdb == nil {
		return false, ErrStoreUnavailable
	}
	n, err := r.rdb.Del(ctx, unhealthyKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete availability record %s: %w", id, err)
	}
	return n > 0, nil
}

// Exists reports whether a record exists for id.
func (r *AvailabilityRepo) Exists(ctx context.Context, id string) (bool, error) {
	if r.rdb == nil {
		return false, ErrStoreUnavailable
	}
	n, err := r.rdb.Exists(ctx, unhealthyKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check availability record %s: %w", id, err)
	}
	return n > 0, nil
}

// BatchExists checks many ids in one pipelined round trip. Ids whose
// individual command failed are absent from the returned map.
func (r *AvailabilityRepo) BatchExists(ctx context.Context, ids []string) (map[string]bool, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	cmds := make([]*redis.IntCmd, len(ids))
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Exists(ctx, unhealthyKey(id))
		}
		return nil
	})

	result := make(map[string]bool, len(ids))
	for i, cmd := range cmds {
		if cmd == nil || cmd.Err() != nil {
			continue
		}
		result[ids[i]] = cmd.Val() > 0
	}
	if err != nil && len(result) == 0 {
		return nil, fmt.Errorf("failed to batch check availability: %w", err)
	}
	return result, nil
}

// Get returns the record with its remaining TTL, or nil when absent.
func (r *AvailabilityRepo) Get(ctx context.Context, id string) (*model.AvailabilityRecord, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	key := unhealthyKey(id)
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get availability record %s: %w", id, err)
	}

	rec, err := decodeRecord(getCmd.Bytes())
	if err != nil || rec == nil {
		return nil, err
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		rec.TTLSeconds = int64(ttl / time.Second)
	}
	return rec, nil
}

// Expire shortens the record lifetime. It reports false when no record exists.
func (r *AvailabilityRepo) Expire(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return false, ErrStoreUnavailable
	}
	ok, err := r.rdb.Expire(ctx, unhealthyKey(id), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to expire availability record %s: %w", id, err)
	}
	return ok, nil
}

// List scans every unhealthy:* key and returns the decoded records. Records
// that vanish between SCAN and GET are skipped.
func (r *AvailabilityRepo) List(ctx context.Context) ([]*model.AvailabilityRecord, error) {
	if r.rdb == nil {
		return nil, ErrStoreUnavailable
	}

	keys, err := scanKeys(ctx, r.rdb, KeyUnhealthy+":*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan availability records: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	getCmds := make([]*redis.StringCmd, len(keys))
	ttlCmds := make([]*redis.DurationCmd, len(keys))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			getCmds[i] = pipe.Get(ctx, key)
			ttlCmds[i] = pipe.TTL(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load availability records: %w", err)
	}

	records := make([]*model.AvailabilityRecord, 0, len(keys))
	for i, key := range keys {
		rec, err := decodeRecord(getCmds[i].Bytes())
		if err != nil {
			r.logger.Warnf("skipping malformed record %s: %v", key, err)
			continue
		}
		if rec == nil {
			continue
		}
		if ttl := ttlCmds[i].Val(); ttl > 0 {
			rec.TTLSeconds = int64(ttl / time.Second)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(raw []byte, err error) (*model.AvailabilityRecord, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec model.AvailabilityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode availability record: %w", err)
	}
	return &rec, nil
}

func scanKeys(ctx context.Context, rdb *redis.Client, pattern string) ([]string, error) {
	var keys []string
	iter := rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
