package biz

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/model"
	pkgerrors "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/errors"
	"github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/httpclient"
	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-resty/resty/v2"
)

const (
	defaultAttemptTimeout = 5 * time.Second
	maxAttemptTimeout     = 10 * time.Second
	defaultMaxBodyBytes   = 1 << 20
	defaultSnippetChars   = 500
	defaultSlowThreshold  = 3000
	minStructuredBodyLen  = 10
)

// errorVocabulary marks a 2xx body that is really an error page.
var errorVocabulary = []string{"error", "exception", "timeout", "unavailable", "maintenance"}

// Prober runs one health check. Implemented by ProbeExecutor.
type Prober interface {
	Probe(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome
}

// ProbeExecutor performs HTTP health checks. Static probes walk /health,
// /status and the base URL; dynamic probes additionally judge latency and
// response body quality.
type ProbeExecutor struct {
	client          *resty.Client
	attemptTimeout  time.Duration
	maxBodyBytes    int64
	snippetChars    int
	slowThresholdMs int64
	logger          *pkglog.LogHelper
	now             func() time.Time
}

// NewProbeExecutor creates a probe executor from the probe configuration.
func NewProbeExecutor(c *conf.Probe, logger log.Logger) (*ProbeExecutor, error) {
	timeout := c.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	if timeout > maxAttemptTimeout {
		timeout = maxAttemptTimeout
	}

	client, err := httpclient.New(httpclient.Options{
		ProxyURL:            c.ProxyURL,
		Timeout:             timeout,
		MaxIdleConnsPerHost: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create probe client: %w", err)
	}

	e := &ProbeExecutor{
		client:          client,
		attemptTimeout:  timeout,
		maxBodyBytes:    c.MaxBodyBytes,
		snippetChars:    c.SnippetChars,
		slowThresholdMs: c.SlowThresholdMs,
		logger:          pkglog.NewLogHelper(log.With(logger, "module", "biz/probe")),
		now:             time.Now,
	}
	if e.maxBodyBytes <= 0 {
		e.maxBodyBytes = defaultMaxBodyBytes
	}
	if e.snippetChars <= 0 {
		e.snippetChars = defaultSnippetChars
	}
	if e.slowThresholdMs <= 0 {
		e.slowThresholdMs = defaultSlowThreshold
	}
	return e, nil
}

type probeTarget struct {
	method string
	url    string
}

type attemptResult struct {
	target    probeTarget
	status    int
	body      string
	truncated bool
	latency   time.Duration
	err       error
}

func (a *attemptResult) ok() bool {
	return a.err == nil && a.status >= 200 && a.status < 300 && strings.TrimSpace(a.body) != ""
}

func (a *attemptResult) describe() string {
	switch {
	case a.err != nil:
		return fmt.Sprintf("%s %s: %s (%v)", a.target.method, a.target.url, pkgerrors.ClassifyProbeError(a.err), a.err)
	case a.status < 200 || a.status >= 300:
		return fmt.Sprintf("%s %s: HTTP %d", a.target.method, a.target.url, a.status)
	default:
		return fmt.Sprintf("%s %s: HTTP %d with empty body", a.target.method, a.target.url, a.status)
	}
}

// Probe checks dep once. It never returns nil and never panics on transport errors.
func (e *ProbeExecutor) Probe(ctx context.Context, dep *model.Dependency) *model.ProbeOutcome {
	checkType := model.CheckTypeStatic
	if UsesDynamicProbe(dep) {
		checkType = model.CheckTypeDynamic
	}

	outcome, winner := e.probeStatic(ctx, dep)
	outcome.CheckType = checkType

	if checkType == model.CheckTypeDynamic && winner != nil {
		e.validate(outcome, winner)
	}

	if outcome.LatencyMs > e.slowThresholdMs {
		e.logger.SlowProbe(ctx, dep.ID, outcome.LatencyMs, e.slowThresholdMs)
	}
	e.logger.Probe("Probe finished",
		"cycle_id", pkglog.GetCycleID(ctx),
		"dependency_id", dep.ID,
		"status", outcome.Status,
		"check_type", outcome.CheckType,
		"latency_ms", outcome.LatencyMs,
		"http_status", outcome.HTTPStatusCode,
	)
	return outcome
}

func targets(dep *model.Dependency) []probeTarget {
	base := strings.TrimRight(dep.BaseURL, "/")
	return []probeTarget{
		{method: http.MethodGet, url: base + "/health"},
		{method: http.MethodGet, url: base + "/status"},
		{method: dep.HTTPMethod(), url: dep.BaseURL},
	}
}

// probeStatic tries each target in order; the first 2xx with a body wins.
func (e *ProbeExecutor) probeStatic(ctx context.Context, dep *model.Dependency) (*model.ProbeOutcome, *attemptResult) {
	start := e.now()
	outcome := &model.ProbeOutcome{
		DependencyID: dep.ID,
		Provider:     dep.Provider,
	}

	var (
		failures   []string
		timeouts   int
		attempts   int
		lastStatus int
	)
	for _, target := range targets(dep) {
		if ctx.Err() != nil {
			break
		}
		attempts++
		res := e.attempt(ctx, target)
		if res.ok() {
			outcome.Status = model.ProbeStatusHealthy
			outcome.HTTPStatusCode = res.status
			outcome.LatencyMs = res.latency.Milliseconds()
			outcome.Endpoint = target.url
			outcome.SampledAt = e.now()
			return outcome, &res
		}
		if res.status != 0 {
			lastStatus = res.status
		}
		if res.err != nil && pkgerrors.IsProbeTimeout(res.err) {
			timeouts++
		}
		failures = append(failures, res.describe())
	}

	outcome.SampledAt = e.now()
	outcome.LatencyMs = outcome.SampledAt.Sub(start).Milliseconds()
	outcome.HTTPStatusCode = lastStatus

	switch {
	case attempts == 0:
		outcome.Status = model.ProbeStatusUnknown
		outcome.ErrorMessage = "probe cancelled before any attempt"
	case timeouts == attempts:
		outcome.Status = model.ProbeStatusTimeout
		outcome.IsTimeout = true
		outcome.ErrorMessage = "all endpoints timed out: " + strings.Join(failures, "; ")
	default:
		outcome.Status = model.ProbeStatusUnhealthy
		outcome.ErrorMessage = "all endpoints failed: " + strings.Join(failures, "; ")
	}
	return outcome, nil
}

func (e *ProbeExecutor) attempt(ctx context.Context, target probeTarget) attemptResult {
	res := attemptResult{target: target}

	actx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.R().
		SetContext(actx).
		SetDoNotParseResponse(true).
		Execute(target.method, target.url)
	if err != nil {
		res.err = err
		res.latency = time.Since(start)
		return res
	}

	raw := resp.RawBody()
	defer raw.Close()

	body, err := io.ReadAll(io.LimitReader(raw, e.maxBodyBytes+1))
	res.latency = time.Since(start)
	res.status = resp.StatusCode()
	if err != nil {
		res.err = fmt.Errorf("failed to read response body: %w", err)
		return res
	}
	if int64(len(body)) > e.maxBodyBytes {
		body = body[:e.maxBodyBytes]
		res.truncated = true
	}
	res.body = string(body)
	return res
}

// validate downgrades a successful dynamic probe to DEGRADED when it was slow
// or its body does not look like a real answer.
func (e *ProbeExecutor) validate(outcome *model.ProbeOutcome, winner *attemptResult) {
	if outcome.LatencyMs > e.slowThresholdMs {
		outcome.Status = model.ProbeStatusDegraded
		outcome.ErrorMessage = fmt.Sprintf("slow response: %dms exceeds %dms", outcome.LatencyMs, e.slowThresholdMs)
		return
	}

	if winner.truncated {
		outcome.Status = model.ProbeStatusDegraded
		outcome.ErrorMessage = pkgerrors.ErrBodyTooLarge.Error()
		return
	}

	body := strings.TrimSpace(winner.body)
	if !looksStructured(body) {
		outcome.Status = model.ProbeStatusDegraded
		outcome.ErrorMessage = "response body failed structural check: " + e.snippet(body)
		return
	}

	if word, found := containsErrorVocabulary(body); found {
		outcome.Status = model.ProbeStatusDegraded
		outcome.ErrorMessage = fmt.Sprintf("response body mentions %q: %s", word, e.snippet(body))
	}
}

// looksStructured accepts a JSON object/array, an XML document or at least
// ten characters of text.
func looksStructured(body string) bool {
	if body == "" {
		return false
	}
	first, last := body[0], body[len(body)-1]
	switch {
	case first == '{' && last == '}',
		first == '[' && last == ']',
		first == '<' && last == '>':
		return true
	}
	return utf8.RuneCountInString(body) >= minStructuredBodyLen
}

func containsErrorVocabulary(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, w := range errorVocabulary {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}

func (e *ProbeExecutor) snippet(body string) string {
	if utf8.RuneCountInString(body) <= e.snippetChars {
		return body
	}
	runes := []rune(body)
	return string(runes[:e.snippetChars]) + "..."
}
