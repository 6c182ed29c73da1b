package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-ultron/sentinel/internal/analysis"
	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/orchestrator"
	"github.com/project-ultron/sentinel/internal/store"
	"github.com/project-ultron/sentinel/internal/worker"
)

type fakeStore struct {
	sub     *store.Subscription
	latest  []analysis.Result
	bySub   []analysis.Result
	listErr error
}

func (f *fakeStore) Subscription(ctx context.Context, id int64) (*store.Subscription, error) {
	if f.sub != nil && f.sub.ID == id {
		return f.sub, nil
	}
	return nil, nil
}

func (f *fakeStore) LatestResults(ctx context.Context, limit int) ([]analysis.Result, error) {
	return f.latest, f.listErr
}

func (f *fakeStore) ResultsBySubscription(ctx context.Context, id int64, limit int) ([]analysis.Result, error) {
	return f.bySub, f.listErr
}

type fakeRunner struct {
	resp   *worker.Response
	err    error
	script string
	req    *worker.Request
}

func (f *fakeRunner) Run(ctx context.Context, script string, req *worker.Request) (*worker.Response, string, error) {
	f.script = script
	f.req = req
	return f.resp, "", f.err
}

type fakeStatus struct {
	summary *orchestrator.Summary
	at      time.Time
}

func (f *fakeStatus) LastBatch() (*orchestrator.Summary, time.Time) {
	return f.summary, f.at
}

func newTestServer(st *fakeStore, runner *fakeRunner, status StatusSource) *Server {
	return New(Config{
		Listen:         "127.0.0.1:0",
		APIKey:         "test-key",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		ServiceName:    "sentinel",
		Fingerprint:    "abcd1234",
	}, st, runner, status)
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func testSub() *store.Subscription {
	return &store.Subscription{
		ID:             7,
		UserID:         1,
		Name:           "Amazon Basin",
		RegionGeometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`),
		Categories:     []string{"DEFORESTATION"},
		IsActive:       true,
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeRunner{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeRunner{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/status", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/status", "test-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportSuccess(t *testing.T) {
	url1 := "https://earthengine.example.com/start.png"
	glacierPct := 3.4
	runner := &fakeRunner{resp: &worker.Response{
		Status:         "success",
		AlertTriggered: true,
		LossPercent:    &glacierPct,
		StartImageURL:  &url1,
	}}
	s := newTestServer(&fakeStore{sub: testSub()}, runner, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		SubscriptionID: 7,
		Category:       "glacier melting",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "glacier/glacier_melting.py", runner.script)
	require.NotNil(t, runner.req.ThresholdPercent)
	assert.Equal(t, 2.0, *runner.req.ThresholdPercent, "table default applied")
	assert.Equal(t, "report-7-GLACIER", runner.req.RegionID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	result := body["result"].(map[string]any)
	assert.Equal(t, url1, result["start_image_url"])
	endURL, present := result["end_image_url"]
	assert.True(t, present, "image url fields are always present")
	assert.Nil(t, endURL, "absent image url reported as null")
	assert.Equal(t, 3.4, result["loss_percent"])
}

func TestReportAdHocRegion(t *testing.T) {
	runner := &fakeRunner{resp: &worker.Response{Status: "success"}}
	s := newTestServer(&fakeStore{}, runner, nil)

	geometry := json.RawMessage(`{"type":"Point","coordinates":[12.5,41.9]}`)
	rec := doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		RegionGeoJSON: geometry,
		RegionID:      "rome-test",
		Category:      "FLOODING",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "flooding/flooding.py", runner.script)
	assert.JSONEq(t, string(geometry), string(runner.req.Geometry))
	assert.Equal(t, "rome-test", runner.req.RegionID)

	rec = doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		RegionGeoJSON: geometry,
		Category:      "FLOODING",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report-adhoc-FLOODING", runner.req.RegionID)
}

func TestReportParameterOverrides(t *testing.T) {
	runner := &fakeRunner{resp: &worker.Response{Status: "success"}}
	s := newTestServer(&fakeStore{sub: testSub()}, runner, nil)

	days := 3
	rec := doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		SubscriptionID: 7,
		Category:       "FIRE_PROTECTION",
		DaysBack:       &days,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, runner.req.DaysBack)
	assert.Equal(t, 3, *runner.req.DaysBack)
}

func TestReportValidation(t *testing.T) {
	s := newTestServer(&fakeStore{sub: testSub()}, &fakeRunner{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{Category: "FLOODING"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		SubscriptionID: 7, Category: "VOLCANIC_ACTIVITY",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		SubscriptionID: 999, Category: "FLOODING",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportHardFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("worker timed out after 10m0s")}
	s := newTestServer(&fakeStore{sub: testSub()}, runner, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/report", "test-key", reportRequest{
		SubscriptionID: 7, Category: "DEFORESTATION",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body reportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "timed out")
}

func TestLatestResults(t *testing.T) {
	val := -0.2
	st := &fakeStore{latest: []analysis.Result{{
		ID:              1,
		RunID:           "run-1",
		SubscriptionID:  7,
		Category:        category.Deforestation,
		Status:          "success",
		AlertTriggered:  true,
		CalculatedValue: &val,
		CreatedAt:       time.Now().UTC(),
	}}}
	s := newTestServer(st, &fakeRunner{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/results/latest?limit=5", "test-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []analysis.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, category.Deforestation, body.Results[0].Category)
}

func TestSubscriptionResults(t *testing.T) {
	st := &fakeStore{sub: testSub(), bySub: []analysis.Result{{ID: 3, SubscriptionID: 7}}}
	s := newTestServer(st, &fakeRunner{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/v1/subscriptions/7/results", "test-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/subscriptions/999/results", "test-key", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/subscriptions/abc/results", "test-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusIncludesLastBatch(t *testing.T) {
	status := &fakeStatus{
		summary: &orchestrator.Summary{RunID: "run-9", Dispatched: 4, Alerts: 1},
		at:      time.Now().UTC(),
	}
	s := newTestServer(&fakeStore{}, &fakeRunner{}, status)

	rec := doRequest(t, s, http.MethodGet, "/v1/status", "test-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sentinel", body["service"])
	assert.Equal(t, "abcd1234", body["fingerprint"])
	last := body["last_batch"].(map[string]any)
	assert.Equal(t, "run-9", last["run_id"])
}

func TestRateLimit(t *testing.T) {
	s := New(Config{
		APIKey:         "test-key",
		RateLimitRPS:   1,
		RateLimitBurst: 2,
		ServiceName:    "sentinel",
	}, &fakeStore{}, &fakeRunner{}, nil)

	router := s.setupRoutes()
	codes := map[int]int{}
	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
		req.Header.Set("Authorization", "Bearer test-key")
		req.RemoteAddr = "10.0.0.1:4444"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes[rec.Code]++
	}

	assert.Equal(t, 2, codes[http.StatusOK], "burst allows two requests")
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}
