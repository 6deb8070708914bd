package service_test

import (
	"bytes"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/biz"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/data"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/server"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fleetYAML = `
dependencies:
  - id: weather-kma
    name: KMA Weather
    provider: kma
    base_url: http://127.0.0.1:1/weather
    tags: [REAL_TIME]
    enabled: true
  - id: stats-kosis
    name: KOSIS Statistics
    provider: kosis
    base_url: http://127.0.0.1:1/stats
    enabled: true
`

type adminFixture struct {
	srv          *http.Server
	mr           *miniredis.Miniredis
	availability *biz.AvailabilityUsecase
	queue        *biz.TaskQueue
}

func newAdminFixture(t *testing.T, token string) *adminFixture {
	t.Helper()
	logger := log.DefaultLogger

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	file := filepath.Join(t.TempDir(), "dependencies.yaml")
	require.NoError(t, os.WriteFile(file, []byte(fleetYAML), 0o600))
	dc := &conf.Data{DependencyFile: file}

	d, cleanup, err := data.NewData(dc, logger, rdb, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	deps := data.NewDependencyRepo(d, dc, logger)
	notifier, err := data.NewEventNotifier(&conf.Notifier{}, d, nil, logger)
	require.NoError(t, err)
	var metrics *data.MetricsRecorder

	pc := &conf.Probe{AttemptTimeout: time.Second, ManualQueueSize: 1}
	cbc := &conf.CircuitBreaker{}

	availability := biz.NewAvailabilityUsecase(data.NewAvailabilityRepo(d, logger), logger)
	cb := biz.NewCircuitBreakerUsecase(cbc, data.NewCircuitBreakerRepo(d, logger), data.NewCallStatsRepo(d, logger),
		deps, notifier, metrics, logger)
	prober, err := biz.NewProbeExecutor(pc, logger)
	require.NoError(t, err)
	sched := biz.NewHealthProbeScheduler(pc, cbc, deps, prober, availability, cb, metrics, logger)
	queue := biz.NewTaskQueue(pc, logger)

	svc := service.NewAdminService(cb, availability, sched, queue, deps, logger)
	srv := server.NewHTTPServer(&conf.Server{AdminToken: token}, svc, logger)
	return &adminFixture{srv: srv, mr: mr, availability: availability, queue: queue}
}

func (f *adminFixture) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestAdmin_ForceStateAndPermit(t *testing.T) {
	f := newAdminFixture(t, "")

	rec := f.do(t, nethttp.MethodPost, "/v1/circuit-breakers/weather-kma/force",
		map[string]string{"state": "FORCE_OPEN", "reason": "vendor outage"})
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	var res biz.TransitionResult
	decode(t, rec, &res)
	assert.True(t, res.Persisted)
	assert.Equal(t, "FORCE_OPEN", res.Record.State)
	assert.Equal(t, "MANUAL_OVERRIDE", res.Event.Trigger)
	assert.Equal(t, "KMA Weather", res.Event.DependencyName, "filled in from the registry")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, nethttp.MethodGet, "/v1/circuit-breakers/weather-kma/permit", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var permit service.PermitReply
	decode(t, rec, &permit)
	assert.False(t, permit.Permitted)
	assert.Equal(t, "FORCE_OPEN", permit.State)

	rec = f.do(t, nethttp.MethodGet, "/v1/circuit-breakers", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var states biz.CircuitStates
	decode(t, rec, &states)
	assert.True(t, states.StoreAccessible)
	require.Len(t, states.States, 1)
	assert.Equal(t, "weather-kma", states.States[0].DependencyID)
}

func TestAdmin_ForceStateRejectsUnknownState(t *testing.T) {
	f := newAdminFixture(t, "")

	rec := f.do(t, nethttp.MethodPost, "/v1/circuit-breakers/weather-kma/force", map[string]string{"state": "AJAR"})
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), service.ReasonInvalidArgument)
	assert.Empty(t, f.mr.Keys())
}

func TestAdmin_RecordCall(t *testing.T) {
	f := newAdminFixture(t, "")

	rec := f.do(t, nethttp.MethodPost, "/v1/circuit-breakers/weather-kma/calls",
		map[string]interface{}{"success": false, "latency_ms": 1200})
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.mr.Exists("circuit-breaker:calls:weather-kma"))

	rec = f.do(t, nethttp.MethodPost, "/v1/circuit-breakers/weather-kma/calls",
		map[string]interface{}{"success": true, "latency_ms": -1})
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestAdmin_Availability(t *testing.T) {
	f := newAdminFixture(t, "")
	ctx := t.Context()

	_, err := f.availability.RecordOutcome(ctx, &model.ProbeOutcome{
		DependencyID: "weather-kma",
		Status:       model.ProbeStatusUnhealthy,
		ErrorMessage: "HTTP 503",
		SampledAt:    time.Now(),
	})
	require.NoError(t, err)

	rec := f.do(t, nethttp.MethodGet, "/v1/availability/weather-kma", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var one service.AvailabilityReply
	decode(t, rec, &one)
	assert.False(t, one.Available)
	require.NotNil(t, one.Record)
	assert.Equal(t, 1, one.Record.ConsecutiveFailures)

	rec = f.do(t, nethttp.MethodPost, "/v1/availability/batch", map[string][]string{"ids": {"weather-kma", "stats-kosis"}})
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var batch service.BatchAvailabilityReply
	decode(t, rec, &batch)
	assert.Equal(t, map[string]bool{"weather-kma": false, "stats-kosis": true}, batch.Availability)

	rec = f.do(t, nethttp.MethodGet, "/v1/availability/statistics", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var stats model.FailureStatistics
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalUnhealthy)

	rec = f.do(t, nethttp.MethodPost, "/v1/availability/weather-kma/early-recovery", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var early service.EarlyRecoveryReply
	decode(t, rec, &early)
	assert.True(t, early.Scheduled)
	assert.Equal(t, 30*time.Second, f.mr.TTL("unhealthy:weather-kma"))

	rec = f.do(t, nethttp.MethodPost, "/v1/availability/batch", map[string][]string{"ids": {}})
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestAdmin_AvailabilityStoreDown(t *testing.T) {
	f := newAdminFixture(t, "")
	f.mr.Close()

	rec := f.do(t, nethttp.MethodGet, "/v1/availability/weather-kma", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)

	// callers of the batch check still fail open
	rec = f.do(t, nethttp.MethodPost, "/v1/availability/batch", map[string][]string{"ids": {"weather-kma"}})
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var batch service.BatchAvailabilityReply
	decode(t, rec, &batch)
	assert.True(t, batch.Availability["weather-kma"])
}

func TestAdmin_RunProbesQueueFull(t *testing.T) {
	f := newAdminFixture(t, "")

	// the queue is never started, so its single slot stays taken
	rec := f.do(t, nethttp.MethodPost, "/v1/probes/run", nil)
	require.Equal(t, nethttp.StatusAccepted, rec.Code, rec.Body.String())
	var accepted service.TaskAcceptedReply
	decode(t, rec, &accepted)
	assert.True(t, accepted.Accepted)

	rec = f.do(t, nethttp.MethodPost, "/v1/probes/run", nil)
	assert.Equal(t, nethttp.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), service.ReasonQueueFull)
}

func TestAdmin_Dependencies(t *testing.T) {
	f := newAdminFixture(t, "")

	rec := f.do(t, nethttp.MethodGet, "/v1/dependencies", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var list service.DependenciesReply
	decode(t, rec, &list)
	assert.Len(t, list.Dependencies, 2)

	rec = f.do(t, nethttp.MethodGet, "/v1/dependencies/unknown", nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), service.ReasonDependencyNotFound)
}

func TestAdmin_Auth(t *testing.T) {
	f := newAdminFixture(t, "s3cret-token")

	rec := f.do(t, nethttp.MethodGet, "/v1/circuit-breakers", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	rec = f.do(t, nethttp.MethodGet, "/v1/circuit-breakers", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	rec = f.do(t, nethttp.MethodGet, "/v1/circuit-breakers", nil, "Authorization", "Bearer s3cret-token")
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	rec = f.do(t, nethttp.MethodGet, "/v1/circuit-breakers", nil, "X-Admin-Token", "s3cret-token")
	assert.Equal(t, nethttp.StatusOK, rec.Code)
}
