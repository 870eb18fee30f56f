package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dyluth/patchbay/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

// TestHealthCheckEndpoint_MethodNotAllowed verifies non-GET requests are rejected.
func TestHealthCheckEndpoint_MethodNotAllowed(t *testing.T) {
	server := NewHealthServer(":0", metrics.New(), func() bool { return true })

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()
	server.healthCheckHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthCheckResponse(t *testing.T) {
	t.Run("healthy while iterating", func(t *testing.T) {
		m := metrics.New()
		m.Iteration(1, time.Millisecond)
		server := NewHealthServer(":0", m, func() bool { return true })

		w := httptest.NewRecorder()
		server.healthCheckHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		response := decode(t, w)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "running", response.Loop)
		assert.Equal(t, uint64(1), response.Stats.Iterations)
	})

	t.Run("unhealthy when stopped", func(t *testing.T) {
		server := NewHealthServer(":0", metrics.New(), func() bool { return false })

		w := httptest.NewRecorder()
		server.healthCheckHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		response := decode(t, w)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "stopped", response.Loop)
	})

	t.Run("unhealthy when stalled", func(t *testing.T) {
		m := metrics.New()
		m.Iteration(0, time.Millisecond)
		server := NewHealthServer(":0", m, func() bool { return true })
		server.now = func() time.Time { return time.Now().Add(time.Minute) }

		w := httptest.NewRecorder()
		server.healthCheckHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		response := decode(t, w)
		assert.Equal(t, "stalled", response.Loop)
		assert.Contains(t, response.Error, "no loop iteration")
	})
}

func TestServer_StartServesMetrics(t *testing.T) {
	m := metrics.New()
	m.Iteration(3, time.Millisecond)
	server := NewHealthServer("127.0.0.1:0", m, func() bool { return true })
	require.NoError(t, server.Start())
	defer server.Shutdown(context.Background())

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "patchbay_loop_iterations_total 1")

	health, err := http.Get("http://" + server.Addr() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_StartFailsOnBadAddress(t *testing.T) {
	server := NewHealthServer("127.0.0.1:-1", metrics.New(), func() bool { return true })
	assert.Error(t, server.Start())
	assert.NoError(t, server.Shutdown(context.Background()))
}
