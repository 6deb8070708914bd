package biz

import (
	"context"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/data"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
)

// AvailabilityRepo defines storage for unhealthy-dependency records.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.AvailabilityRepo).
type AvailabilityRepo interface {
	Upsert(ctx context.Context, id string, mutate data.AvailabilityMutator) (*model.AvailabilityRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	BatchExists(ctx context.Context, ids []string) (map[string]bool, error)
	Get(ctx context.Context, id string) (*model.AvailabilityRecord, error)
	Expire(ctx context.Context, id string, ttl time.Duration) (bool, error)
	List(ctx context.Context) ([]*model.AvailabilityRecord, error)
}
