// Package health serves the liveness and metrics endpoints of a running router.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/patchbay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxStale is how long the loop may go without completing an
// iteration before it is reported as stalled.
const DefaultMaxStale = 5 * time.Second

// HealthServer provides HTTP health check and metrics endpoints.
type HealthServer struct {
	addr     string
	metrics  *metrics.Metrics
	running  func() bool
	maxStale time.Duration
	now      func() time.Time

	server   *http.Server
	listener net.Listener
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string           `json:"status"`
	Loop   string           `json:"loop"`
	Stats  metrics.Snapshot `json:"stats"`
	Error  string           `json:"error,omitempty"`
}

// NewHealthServer creates a health server for addr. running reports whether
// the router loop is active and must be safe for concurrent use.
func NewHealthServer(addr string, m *metrics.Metrics, running func() bool) *HealthServer {
	return &HealthServer{
		addr:     addr,
		metrics:  m,
		running:  running,
		maxStale: DefaultMaxStale,
		now:      time.Now,
	}
}

// Handler returns the mux serving /healthz and /metrics.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start binds the listen address and serves in the background.
func (h *HealthServer) Start() error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = listener
	h.server = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] Health server error: %v", err)
		}
	}()

	log.Printf("[INFO] Health server listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK while the loop is running and iterating, 503 otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status: "healthy",
		Loop:   "running",
		Stats:  h.metrics.Snapshot(),
	}
	code := http.StatusOK

	switch {
	case !h.running():
		response.Status = "unhealthy"
		response.Loop = "stopped"
		code = http.StatusServiceUnavailable
	case !response.Stats.LastIteration.IsZero() && h.now().Sub(response.Stats.LastIteration) > h.maxStale:
		response.Status = "unhealthy"
		response.Loop = "stalled"
		response.Error = fmt.Sprintf("no loop iteration for %s", h.now().Sub(response.Stats.LastIteration).Round(time.Millisecond))
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
