package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchon/flowbus/internal/application/flowhost"
	"github.com/touchon/flowbus/internal/infrastructure/flowfile"
	"github.com/touchon/flowbus/internal/shared/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics, err := flowhost.NewMetrics(reg)
	require.NoError(t, err)

	def := &flowfile.Definition{Nodes: []flowfile.Node{
		{ID: "fan", Type: flowfile.TypeCopy, Outputs: 2},
		{ID: "toggle", Type: flowfile.TypeOut, Server: "attic", CommandName: "toggle"},
	}}
	rt, err := flowhost.New(def, flowhost.WithMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })

	router := NewRouter(rt, reg, logger.NewDiscard())
	router.SetupRoutes()
	return router.GetEngine()
}

func serve(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	engine := newTestRouter(t)

	w := serve(engine, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 2.0, health["nodes"])

	w = serve(engine, http.MethodGet, "/nodes", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"no server"`)

	w = serve(engine, http.MethodGet, "/nodes/fan", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, http.MethodPost, "/nodes/fan/trigger", `{"payload":"go"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(engine, http.MethodPost, "/nodes/toggle/trigger", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"no_server"`)

	w = serve(engine, http.MethodPost, "/nodes/missing/trigger", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(engine, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `flowbus_flow_messages_forwarded_total{node="fan",output="1"} 1`)
}
