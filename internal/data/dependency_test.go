package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `dependencies:
  - id: weather-kma
    name: KMA Weather
    provider: kma
    base_url: https://apihub.kma.go.kr/api
    domain: WEATHER
    tags: [REAL_TIME]
    priority: high
    enabled: true
  - id: stats-kosis
    base_url: https://kosis.kr/openapi
    method: post
    enabled: true
  - id: retired
    base_url: https://old.example.com
    enabled: false
  - id: no-url
    enabled: true
  - id: weather-kma
    base_url: https://dup.example.com
    enabled: true
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dependencies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDependencyRepo_ListEnabledFromFile(t *testing.T) {
	path := writeRegistry(t, registryYAML)
	repo := NewDependencyRepo(&Data{}, &conf.Data{DependencyFile: path}, log.DefaultLogger)

	deps, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, deps, 2)

	kma := deps[0]
	assert.Equal(t, "weather-kma", kma.ID)
	assert.Equal(t, model.PriorityHigh, kma.Priority)
	assert.True(t, kma.HasTag("real_time"))
	assert.Equal(t, "GET", kma.HTTPMethod())
	assert.Equal(t, "https://apihub.kma.go.kr/api", kma.BaseURL, "first duplicate wins")

	assert.Equal(t, "stats-kosis", deps[1].ID)
	assert.Equal(t, "POST", deps[1].HTTPMethod())
	assert.Equal(t, model.Priority(""), deps[1].Priority)
}

func TestDependencyRepo_Get(t *testing.T) {
	repo := NewDependencyRepo(&Data{}, &conf.Data{DependencyFile: writeRegistry(t, registryYAML)}, log.DefaultLogger)

	dep, err := repo.Get(context.Background(), "stats-kosis")
	require.NoError(t, err)
	require.NotNil(t, dep)

	dep, err = repo.Get(context.Background(), "retired")
	require.NoError(t, err)
	assert.Nil(t, dep)
}

func TestDependencyRepo_FileErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"no source", "", "no dependency source configured"},
		{"missing file", filepath.Join(t.TempDir(), "absent.yaml"), "failed to read dependency file"},
		{"bad yaml", writeRegistry(t, "dependencies: [\n"), "failed to parse dependency file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewDependencyRepo(&Data{}, &conf.Data{DependencyFile: tt.path}, log.DefaultLogger)
			_, err := repo.ListEnabled(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExternalAPI_ToModel(t *testing.T) {
	row := ExternalAPI{
		APIID:      "news-naver",
		Name:       "Naver News",
		Provider:   "naver",
		BaseURL:    "https://openapi.naver.com/v1/search/news.json",
		HTTPMethod: "GET",
		Priority:   "low",
		Domain:     "NEWS",
		Tags:       " BATCH, ,ARCHIVE ",
		IsActive:   true,
	}
	dep := row.toModel()

	assert.Equal(t, "news-naver", dep.ID)
	assert.Equal(t, model.PriorityLow, dep.Priority)
	assert.Equal(t, []string{"BATCH", "ARCHIVE"}, dep.Tags)
	assert.True(t, dep.Enabled)
	assert.Equal(t, "external_apis", ExternalAPI{}.TableName())
}

func TestValidateDependency(t *testing.T) {
	assert.NoError(t, ValidateDependency(&model.Dependency{ID: "a", BaseURL: "https://a.example.com"}))
	assert.Error(t, ValidateDependency(&model.Dependency{ID: "", BaseURL: "https://a.example.com"}))
	assert.Error(t, ValidateDependency(&model.Dependency{ID: "a", BaseURL: "not a url"}))
	assert.Error(t, ValidateDependency(&model.Dependency{ID: "a", BaseURL: "https://a.example.com", Method: "DELETE"}))
}

var externalAPIColumns = []string{
	"api_id", "name", "provider", "base_url", "http_method", "priority", "domain", "tags", "is_active", "updated_at",
}

const registryQuery = "SELECT * FROM `external_apis` WHERE is_active = ? ORDER BY api_id"

func TestDependencyRepo_ListEnabledFromDatabase(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDependencyRepo(&Data{db: db}, &conf.Data{}, log.DefaultLogger)

	mock.ExpectQuery(regexp.QuoteMeta(registryQuery)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows(externalAPIColumns).
			AddRow("payment-toss", "Toss Payments", "toss", "https://api.tosspayments.com/v1", "GET", "", "PAYMENT", "", true, time.Now()).
			AddRow("stats-kosis", "KOSIS", "kosis", "https://kosis.kr/openapi", "POST", "low", "STATISTICS", "BATCH, ANALYTICS", true, time.Now()))

	deps, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "payment-toss", deps[0].ID)
	assert.Equal(t, []string{"BATCH", "ANALYTICS"}, deps[1].Tags)
	assert.Equal(t, model.PriorityLow, deps[1].Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDependencyRepo_FallsBackToFileWhenRegistryUnavailable(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDependencyRepo(&Data{db: db}, &conf.Data{DependencyFile: writeRegistry(t, registryYAML)}, log.DefaultLogger)

	mock.ExpectQuery(regexp.QuoteMeta(registryQuery)).
		WillReturnError(&mysqldriver.MySQLError{Number: 1146, Message: "Table 'apibridge.external_apis' doesn't exist"})

	deps, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestDependencyRepo_DatabaseErrorWithoutFallback(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDependencyRepo(&Data{db: db}, &conf.Data{}, log.DefaultLogger)

	mock.ExpectQuery(regexp.QuoteMeta(registryQuery)).
		WillReturnError(errors.New("deadlock found"))

	_, err := repo.ListEnabled(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list dependencies")
}
