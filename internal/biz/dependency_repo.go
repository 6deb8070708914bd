package biz

import (
	"context"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
)

// DependencyRepo is the read-only dependency source.
// Implementation is in data layer (data.DependencyRepo).
type DependencyRepo interface {
	ListEnabled(ctx context.Context) ([]*model.Dependency, error)
	Get(ctx context.Context, id string) (*model.Dependency, error)
}
