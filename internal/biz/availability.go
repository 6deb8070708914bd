package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	// ChronicFailureThreshold is the streak after which UNHEALTHY uses the long base TTL.
	ChronicFailureThreshold = 5
	// EarlyRecoveryTTL replaces the TTL of short-lived failures on an early recovery check.
	EarlyRecoveryTTL = 30 * time.Second
	// earlyRecoveryMaxFailures is the longest streak still considered a blip.
	earlyRecoveryMaxFailures = 2
	maxTTLMultiplier         = 2.0
)

// ComputeTTL returns the cache lifetime of a failing dependency: a base TTL
// per status scaled by min(1+(n-1)*0.2, 2.0), rounded to the second.
func ComputeTTL(status model.ProbeStatus, consecutiveFailures int) time.Duration {
	n := consecutiveFailures
	if n < 1 {
		n = 1
	}

	var base float64
	switch status {
	case model.ProbeStatusTimeout:
		base = 300
	case model.ProbeStatusUnhealthy:
		base = 180
		if n >= ChronicFailureThreshold {
			base = 600
		}
	case model.ProbeStatusDegraded:
		base = 120
	default:
		base = 180
	}

	multiplier := math.Min(1+float64(n-1)*0.2, maxTTLMultiplier)
	return time.Duration(math.Round(base*multiplier)) * time.Second
}

// AvailabilityUsecase answers "is X available" from the zero-storage cache:
// only unhealthy dependencies have a record, absence means available.
// Store failures never surface as unavailability.
type AvailabilityUsecase struct {
	repo   AvailabilityRepo
	logger *pkglog.LogHelper
	now    func() time.Time
}

// NewAvailabilityUsecase creates a new availability usecase.
func NewAvailabilityUsecase(repo AvailabilityRepo, logger log.Logger) *AvailabilityUsecase {
	return &AvailabilityUsecase{
		repo:   repo,
		logger: pkglog.NewLogHelper(log.With(logger, "module", "biz/availability")),
		now:    time.Now,
	}
}

// RecordOutcome applies one probe outcome. Success removes the record; a
// failure increments the streak and refreshes the TTL. The returned record is
// nil after a recovery or when the outcome was older than the stored one.
func (uc *AvailabilityUsecase) RecordOutcome(ctx context.Context, outcome *model.ProbeOutcome) (*model.AvailabilityRecord, error) {
	id := outcome.DependencyID

	if outcome.Status.IsSuccess() {
		existed, err := uc.repo.Delete(ctx, id)
		if err != nil {
			uc.logger.Degraded("failed to clear availability record", err, "dependency_id", id)
			return nil, err
		}
		if existed {
			uc.logger.Availability("Dependency recovered", "dependency_id", id, "status", outcome.Status)
		}
		return nil, nil
	}

	rec, err := uc.repo.Upsert(ctx, id, func(prev *model.AvailabilityRecord) (*model.AvailabilityRecord, time.Duration, error) {
		if prev != nil && outcome.SampledAt.Before(prev.LastProbeAt) {
			return nil, 0, nil
		}

		next := &model.AvailabilityRecord{
			DependencyID:        id,
			Status:              outcome.Status,
			ErrorMessage:        outcome.ErrorMessage,
			LatencyMs:           outcome.LatencyMs,
			HTTPStatusCode:      outcome.HTTPStatusCode,
			ConsecutiveFailures: 1,
			FirstFailureAt:      outcome.SampledAt,
			LastProbeAt:         outcome.SampledAt,
			CheckType:           outcome.CheckType,
		}
		if prev != nil {
			next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
			if !prev.FirstFailureAt.IsZero() {
				next.FirstFailureAt = prev.FirstFailureAt
			}
		}
		return next, ComputeTTL(next.Status, next.ConsecutiveFailures), nil
	})
	if err != nil {
		uc.logger.Degraded("failed to record unhealthy dependency", err, "dependency_id", id, "status", outcome.Status)
		return nil, err
	}
	if rec == nil {
		uc.logger.Debugw("msg", "stale outcome discarded", "dependency_id", id, "sampled_at", outcome.SampledAt)
		return nil, nil
	}

	uc.logger.Availability("Dependency marked unavailable",
		"dependency_id", id,
		"status", rec.Status,
		"consecutive_failures", rec.ConsecutiveFailures,
		"ttl_seconds", rec.TTLSeconds,
	)
	return rec, nil
}

// IsAvailable reports whether id has no unhealthy record. Store errors fail open.
func (uc *AvailabilityUsecase) IsAvailable(ctx context.Context, id string) bool {
	exists, err := uc.repo.Exists(ctx, id)
	if err != nil {
		uc.logger.Degraded("availability check failed, assuming available", err, "dependency_id", id)
		return true
	}
	return !exists
}

// BatchIsAvailable checks many ids in one round trip. Every id the store could
// not answer for defaults to available.
func (uc *AvailabilityUsecase) BatchIsAvailable(ctx context.Context, ids []string) map[string]bool {
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = true
	}
	if len(ids) == 0 {
		return result
	}

	exists, err := uc.repo.BatchExists(ctx, ids)
	if err != nil {
		uc.logger.Degraded("batch availability check failed, assuming available", err, "count", len(ids))
		return result
	}
	for id, found := range exists {
		if _, asked := result[id]; asked {
			result[id] = !found
		}
	}
	return result
}

// EarlyRecoveryCheck shortens the TTL of a short failure streak to 30s so the
// next cycle re-evaluates it sooner. It reports whether the TTL was shortened.
func (uc *AvailabilityUsecase) EarlyRecoveryCheck(ctx context.Context, id string) (bool, error) {
	rec, err := uc.repo.Get(ctx, id)
	if err != nil {
		uc.logger.Degraded("early recovery check failed", err, "dependency_id", id)
		return false, err
	}
	if rec == nil || rec.ConsecutiveFailures > earlyRecoveryMaxFailures {
		return false, nil
	}
	// never lengthen a TTL that is already about to run out
	if rec.TTLSeconds >= 0 && rec.TTLSeconds <= int64(EarlyRecoveryTTL/time.Second) {
		return false, nil
	}

	ok, err := uc.repo.Expire(ctx, id, EarlyRecoveryTTL)
	if err != nil {
		uc.logger.Degraded("failed to shorten availability TTL", err, "dependency_id", id)
		return false, err
	}
	if ok {
		uc.logger.Availability("Early recovery check scheduled",
			"dependency_id", id,
			"consecutive_failures", rec.ConsecutiveFailures,
			"previous_ttl_seconds", rec.TTLSeconds,
		)
	}
	return ok, nil
}

// GetRecord returns the stored record with its remaining TTL, or nil when available.
func (uc *AvailabilityUsecase) GetRecord(ctx context.Context, id string) (*model.AvailabilityRecord, error) {
	rec, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability record: %w", err)
	}
	return rec, nil
}

// GetFailureStatistics summarises every currently unhealthy dependency.
// StoreAccessible is false, with empty totals, when the store cannot be read.
func (uc *AvailabilityUsecase) GetFailureStatistics(ctx context.Context) *model.FailureStatistics {
	stats := &model.FailureStatistics{
		StoreAccessible: true,
		ByStatus:        make(map[model.ProbeStatus]int),
		Records:         []*model.AvailabilityRecord{},
		GeneratedAt:     uc.now().UTC(),
	}

	records, err := uc.repo.List(ctx)
	if err != nil {
		uc.logger.Degraded("failed to list availability records", err)
		stats.StoreAccessible = false
		return stats
	}

	for _, rec := range records {
		stats.TotalUnhealthy++
		stats.ByStatus[rec.Status]++
		if rec.ConsecutiveFailures >= ChronicFailureThreshold {
			stats.ChronicFailures++
		}
		stats.Records = append(stats.Records, rec)
	}
	return stats
}
