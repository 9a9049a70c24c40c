package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/internal/application/orchestrator"
	"github.com/aescanero/modjob/internal/application/system"
	metrics "github.com/aescanero/modjob/pkg/adapters/metrics/prometheus"
	storage "github.com/aescanero/modjob/pkg/adapters/storage/memory"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminToken = "admin-token"
	userToken  = "user-token"
)

type testEnv struct {
	server  *Server
	manager *orchestrator.Manager
	queue   *jobs.Queue
}

func newTestEnv(t *testing.T, mutate func(cfg *Config)) *testEnv {
	t.Helper()

	mgr := orchestrator.NewManager(orchestrator.NewValidator(), zap.NewNop())
	queue := jobs.NewQueue(&jobs.Config{
		Resolver: mgr,
		Archive:  storage.NewJobArchive(time.Hour),
		Logger:   zap.NewNop(),
	})
	mgr.SetScheduler(queue)
	require.NoError(t, mgr.Register(system.NewUtils(mgr, queue)))

	reg := prometheus.NewRegistry()
	cfg := &Config{
		Port:      0,
		Jobs:      queue,
		Modules:   mgr,
		Tokens:    map[string]string{adminToken: "admin", userToken: "user"},
		JobWait:   2 * time.Second,
		RateLimit: 1000,
		RateBurst: 1000,
		Metrics:   metrics.NewCollector(reg),
		Gatherer:  reg,
		Logger:    zap.NewNop(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	return &testEnv{server: NewServer(cfg), manager: mgr, queue: queue}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.manager.Startup(context.Background()))
	t.Cleanup(func() { _ = e.manager.Shutdown(context.Background()) })
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env.start(t)

	w, _ = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"utils":"STARTED"`)
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	tests := []struct {
		name       string
		token      string
		body       interface{}
		wantCode   int
		wantStatus domain.ResultStatus
	}{
		{
			name:       "ping succeeds",
			body:       JobSubmitRequest{Module: "utils", Operation: "ping"},
			wantCode:   http.StatusOK,
			wantStatus: domain.ResultStatusSuccess,
		},
		{
			name:       "missing operation",
			body:       map[string]string{"module": "utils"},
			wantCode:   http.StatusBadRequest,
			wantStatus: domain.ResultStatusFailure,
		},
		{
			name:       "unknown module",
			body:       JobSubmitRequest{Module: "ghost", Operation: "ping"},
			wantCode:   http.StatusNotFound,
			wantStatus: domain.ResultStatusFailure,
		},
		{
			name:       "unknown operation",
			body:       JobSubmitRequest{Module: "utils", Operation: "ghost"},
			wantCode:   http.StatusNotFound,
			wantStatus: domain.ResultStatusFailure,
		},
		{
			name:       "admin operation as anonymous",
			body:       JobSubmitRequest{Module: "utils", Operation: "getStats"},
			wantCode:   http.StatusForbidden,
			wantStatus: domain.ResultStatusFailure,
		},
		{
			name:       "admin operation as user",
			token:      userToken,
			body:       JobSubmitRequest{Module: "utils", Operation: "getStats"},
			wantCode:   http.StatusForbidden,
			wantStatus: domain.ResultStatusFailure,
		},
		{
			name:       "admin operation as admin",
			token:      adminToken,
			body:       JobSubmitRequest{Module: "utils", Operation: "getModules"},
			wantCode:   http.StatusOK,
			wantStatus: domain.ResultStatusSuccess,
		},
		{
			name:       "invalid payload",
			body:       JobSubmitRequest{Module: "utils", Operation: "sleep", Payload: domain.Payload{"ms": -1}},
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: domain.ResultStatusFailure,
		},
		{
			name:       "unknown token",
			token:      "nope",
			body:       JobSubmitRequest{Module: "utils", Operation: "ping"},
			wantCode:   http.StatusUnauthorized,
			wantStatus: domain.ResultStatusFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, http.MethodPost, "/api/v1/jobs", tt.token, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestSubmitJob_ResultShape(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "sleep", Payload: domain.Payload{"ms": 1}})
	require.Equal(t, http.StatusOK, w.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "COMPLETED", data["status"])
	assert.NotEmpty(t, data["job_id"])
	assert.Equal(t, map[string]interface{}{"slept_ms": 1.0}, data["result"])

	w, resp = env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "sleep", Payload: domain.Payload{"ms": -5}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, resp.Message, "gte")
	assert.Equal(t, "validation", resp.Data.(map[string]interface{})["error_kind"])
}

func TestSubmitJob_Accepted(t *testing.T) {
	t.Run("queue not started", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *Config) { cfg.JobWait = 20 * time.Millisecond })

		w, resp := env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "ping"})
		require.Equal(t, http.StatusAccepted, w.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "QUEUED", data["status"])

		queued, _ := env.queue.Len()
		assert.Equal(t, 1, queued)
	})

	t.Run("websocket delivery", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.start(t)

		w, _ := env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{
			Module:        "utils",
			Operation:     "ping",
			ConnectionID:  "conn-1",
			CorrelationID: "req-1",
		})
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	for _, path := range []string{"/api/v1/queue", "/api/v1/queue/active", "/api/v1/stats", "/api/v1/modules"} {
		t.Run(path, func(t *testing.T) {
			w, _ := env.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w, _ = env.do(t, http.MethodGet, path, userToken, nil)
			assert.Equal(t, http.StatusForbidden, w.Code)

			w, resp := env.do(t, http.MethodGet, path, adminToken, nil)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, domain.ResultStatusSuccess, resp.Status)
		})
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	_, resp := env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "ping"})
	id := resp.Data.(map[string]interface{})["job_id"].(string)

	w, resp := env.do(t, http.MethodGet, "/api/v1/jobs/"+id, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := resp.Data.(map[string]interface{})
	assert.Equal(t, id, rec["id"])
	assert.Equal(t, "COMPLETED", rec["status"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/jobs/missing", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetModuleStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/modules/utils/status", adminToken, ModuleStatusRequest{Status: domain.ModuleStatusError})
	require.Equal(t, http.StatusOK, w.Code)

	// jobs for a module in ERROR stay queued
	env.server.jobWait = 20 * time.Millisecond
	w, resp := env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "ping"})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := resp.Data.(map[string]interface{})["job_id"].(string)

	w, _ = env.do(t, http.MethodPost, "/api/v1/modules/utils/status", adminToken, ModuleStatusRequest{Status: domain.ModuleStatusStarted})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		rec, err := env.queue.Job(context.Background(), id)
		return err == nil && rec.Status == domain.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	w, _ = env.do(t, http.MethodPost, "/api/v1/modules/utils/status", adminToken, ModuleStatusRequest{Status: "BOGUS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/modules/ghost/status", adminToken, ModuleStatusRequest{Status: domain.ModuleStatusStarted})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})
	env.start(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "ping"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/jobs", "", JobSubmitRequest{Module: "utils", Operation: "ping"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// authenticated callers get their own bucket
	w, _ = env.do(t, http.MethodPost, "/api/v1/jobs", userToken, JobSubmitRequest{Module: "utils", Operation: "ping"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)

	env.do(t, http.MethodGet, "/health", "", nil)

	w, _ := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `modjob_http_requests_total{code="200",method="GET",route="/health"} 1`)
}

func TestServer_StartShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.server.Addr = "127.0.0.1:0"

	require.NoError(t, env.server.Start(context.Background()))

	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, env.server.Shutdown(context.Background()))
}
