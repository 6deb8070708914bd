package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingRecord(id string, n int) *model.AvailabilityRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.AvailabilityRecord{
		DependencyID:        id,
		Status:              model.ProbeStatusUnhealthy,
		ErrorMessage:        "HTTP 503",
		ConsecutiveFailures: n,
		FirstFailureAt:      now,
		LastProbeAt:         now,
		CheckType:           model.CheckTypeStatic,
	}
}

func TestAvailabilityRepo_UpsertAndGet(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	ctx := context.Background()

	rec, err := repo.Upsert(ctx, "kma", func(prev *model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		assert.Nil(t, prev)
		return failingRecord("kma", 1), 180 * time.Second, nil
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(180), rec.TTLSeconds)
	assert.Equal(t, 180*time.Second, mr.TTL("unhealthy:kma"))

	_, err = repo.Upsert(ctx, "kma", func(prev *model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		require.NotNil(t, prev)
		next := *prev
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		return &next, 216 * time.Second, nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "kma")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.Equal(t, int64(216), got.TTLSeconds)
	assert.Equal(t, "HTTP 503", got.ErrorMessage)
}

func TestAvailabilityRepo_UpsertSkipAndError(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	ctx := context.Background()

	rec, err := repo.Upsert(ctx, "kma", func(*model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		return nil, 0, nil
	})
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.False(t, mr.Exists("unhealthy:kma"))

	boom := errors.New("boom")
	_, err = repo.Upsert(ctx, "kma", func(*model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestAvailabilityRepo_UpsertOverwritesMalformed(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	require.NoError(t, mr.Set("unhealthy:kma", "not-json"))

	_, err := repo.Upsert(context.Background(), "kma", func(prev *model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		assert.Nil(t, prev)
		return failingRecord("kma", 1), time.Minute, nil
	})
	assert.NoError(t, err)
}

func TestAvailabilityRepo_DeleteExistsExpire(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	ctx := context.Background()

	ok, err := repo.Exists(ctx, "kma")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Expire(ctx, "kma", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "expire on a missing key reports false")

	_, err = repo.Upsert(ctx, "kma", func(*model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		return failingRecord("kma", 1), 180 * time.Second, nil
	})
	require.NoError(t, err)

	ok, err = repo.Expire(ctx, "kma", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, mr.TTL("unhealthy:kma"))

	existed, err := repo.Delete(ctx, "kma")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.Delete(ctx, "kma")
	require.NoError(t, err)
	assert.False(t, existed)

	got, err := repo.Get(ctx, "kma")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAvailabilityRepo_BatchExists(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	require.NoError(t, mr.Set("unhealthy:b", "{}"))

	got, err := repo.BatchExists(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": false, "b": true, "c": false}, got)

	empty, err := repo.BatchExists(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAvailabilityRepo_List(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		id := id
		_, err := repo.Upsert(ctx, id, func(*model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
			return failingRecord(id, 1), time.Minute, nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("unhealthy:broken", "{"))
	require.NoError(t, mr.Set("circuit-breaker:state:a", "OPEN"))

	records, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.Greater(t, r.TTLSeconds, int64(0))
	}
}

func TestAvailabilityRepo_StoreDown(t *testing.T) {
	d, mr := setupTestData(t)
	repo := NewAvailabilityRepo(d, log.DefaultLogger)
	mr.Close()
	ctx := context.Background()

	_, err := repo.Exists(ctx, "kma")
	assert.Error(t, err)
	_, err = repo.BatchExists(ctx, []string{"kma"})
	assert.Error(t, err)
	_, err = repo.List(ctx)
	assert.Error(t, err)
}

func TestAvailabilityRepo_NilClient(t *testing.T) {
	repo := NewAvailabilityRepo(&Data{}, log.DefaultLogger)
	ctx := context.Background()

	_, err := repo.Exists(ctx, "kma")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = repo.Upsert(ctx, "kma", nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
