package data

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	pkgerrors "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v2"
	"gorm.io/gorm"
)

// ExternalAPI is a row of the external_apis registry table.
type ExternalAPI struct {
	APIID      string    `gorm:"column:api_id;primaryKey;size:64"`
	Name       string    `gorm:"column:name;size:128"`
	Provider   string    `gorm:"column:provider;size:64"`
	BaseURL    string    `gorm:"column:base_url;size:512"`
	HTTPMethod string    `gorm:"column:http_method;size:8"`
	Priority   string    `gorm:"column:priority;size:8"`
	Domain     string    `gorm:"column:domain;size:32"`
	Tags       string    `gorm:"column:tags;size:255"` // comma-separated
	IsActive   bool      `gorm:"column:is_active"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName overrides the table name.
func (ExternalAPI) TableName() string {
	return "external_apis"
}

func (e *ExternalAPI) toModel() *model.Dependency {
	var tags []string
	for _, t := range strings.Split(e.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return &model.Dependency{
		ID:       e.APIID,
		Name:     e.Name,
		Provider: e.Provider,
		BaseURL:  e.BaseURL,
		Method:   e.HTTPMethod,
		Priority: model.ParsePriority(e.Priority),
		Domain:   e.Domain,
		Tags:     tags,
		Enabled:  e.IsActive,
	}
}

type dependencyFile struct {
	Dependencies []*model.Dependency `yaml:"dependencies"`
}

// DependencyRepo implements biz.DependencyRepo. The registry table is the
// primary source; the YAML file serves when no database is configured or the
// database is unreachable.
type DependencyRepo struct {
	db     *gorm.DB
	file   string
	logger *log.Helper
}

// NewDependencyRepo creates a new dependency registry repository.
func NewDependencyRepo(d *Data, c *conf.Data, logger log.Logger) *DependencyRepo {
	var file string
	if c != nil {
		file = c.DependencyFile
	}
	return &DependencyRepo{
		db:     d.DB(),
		file:   file,
		logger: log.NewHelper(log.With(logger, "module", "data/dependency")),
	}
}

// ListEnabled returns a snapshot of every valid, enabled dependency.
func (r *DependencyRepo) ListEnabled(ctx context.Context) ([]*model.Dependency, error) {
	var deps []*model.Dependency

	if r.db != nil {
		var rows []ExternalAPI
		err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("api_id").Find(&rows).Error
		switch {
		case err == nil:
			deps = make([]*model.Dependency, 0, len(rows))
			for i := range rows {
				deps = append(deps, rows[i].toModel())
			}
		case pkgerrors.IsRegistryUnavailable(err) && r.file != "":
			r.logger.Warnw("msg", "registry database unavailable, falling back to file", "file", r.file, "error", err)
		default:
			return nil, fmt.Errorf("failed to list dependencies: %w", pkgerrors.ClassifyDBError(err))
		}
	}

	if deps == nil {
		fileDeps, err := LoadDependencyFile(r.file)
		if err != nil {
			return nil, err
		}
		deps = fileDeps
	}

	return r.sanitize(deps), nil
}

// Get returns one enabled dependency, or nil when unknown.
func (r *DependencyRepo) Get(ctx context.Context, id string) (*model.Dependency, error) {
	deps, err := r.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

// sanitize drops disabled, invalid and duplicate entries.
func (r *DependencyRepo) sanitize(deps []*model.Dependency) []*model.Dependency {
	seen := make(map[string]struct{}, len(deps))
	out := make([]*model.Dependency, 0, len(deps))
	for _, d := range deps {
		if d == nil || !d.Enabled {
			continue
		}
		if err := ValidateDependency(d); err != nil {
			r.logger.Warnw("msg", "skipping invalid dependency", "dependency_id", d.ID, "error", err)
			continue
		}
		if _, dup := seen[d.ID]; dup {
			r.logger.Warnw("msg", "skipping duplicate dependency", "dependency_id", d.ID)
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}

// ValidateDependency checks the fields the prober relies on.
func ValidateDependency(d *model.Dependency) error {
	return validation.ValidateStruct(d,
		validation.Field(&d.ID, validation.Required, validation.Length(1, 64)),
		validation.Field(&d.BaseURL, validation.Required, is.URL),
		validation.Field(&d.Method, validation.In("", "GET", "HEAD", "POST", "get", "head", "post")),
	)
}

// LoadDependencyFile reads a YAML registry:
//
//	dependencies:
//	  - id: weather-kma
//	    base_url: https://...
//	    enabled: true
func LoadDependencyFile(path string) ([]*model.Dependency, error) {
	if path == "" {
		return nil, fmt.Errorf("no dependency source configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency file %s: %w", path, err)
	}
	var f dependencyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse dependency file %s: %w", path, err)
	}
	for _, d := range f.Dependencies {
		if d != nil && d.Priority != "" {
			d.Priority = model.ParsePriority(string(d.Priority))
		}
	}
	return f.Dependencies, nil
}
