package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/pkg/config"
	"github.com/weaveflow-go/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func memoryConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0, SubmitLimit: 2},
		Database: config.DatabaseConfig{Driver: "memory"},
		Model:    config.ModelConfig{DefaultModel: "gemini-2.0-flash", RequestsPerSecond: 5, Burst: 5},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.engine.Stop(ctx)
		s.closeDeps()
	})
	return s
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServer_SubmitTextWorkflow(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	body := `{"workflowId":"wf-1","scope":"full","nodes":[{"id":"t1","type":"textNode","data":{"text":"hello"}}],"edges":[]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	run, err := s.Engine().Wait(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, run.Status)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_SubmitLimit(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestNew_RejectsUnreachableRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	_, err := New(cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "replica-1", InstanceID("replica-1"))
	assert.NotEmpty(t, InstanceID(""))
}
