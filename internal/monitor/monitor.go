// Package monitor is the arbiter's standalone metrics/health surface
// (spec §9 `monitor_bind`), a tiny chi router kept independent of the
// dashboard's gin API and the callback's mux router: three routers for
// three concerns, mirroring the teacher's several independent HTTP
// entrypoints. Grounded on the original arbiter/monitor.py's
// PrometheusMonitor.server, which ran its own WSGI server on its own bind
// rather than sharing the dashboard's.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bountyarbiter/arbiterd/internal/jobengine"
	"github.com/bountyarbiter/arbiterd/internal/metrics"
	"github.com/bountyarbiter/arbiterd/internal/platform/logger"
)

// BackendHealthChecker groups the subset of jobengine.Engine the health
// sweep needs, kept narrow so monitor doesn't import the whole engine API.
type BackendHealthChecker interface {
	Backends() map[string]jobengine.Backend
}

// Server serves /healthz (liveness), /readyz (host resource snapshot) and
// /metrics (Prometheus), plus drives the periodic per-backend health
// sweep that feeds metrics.RecordBackendHealth.
type Server struct {
	engine BackendHealthChecker
	log    *logger.Logger
}

// New builds the monitor server.
func New(engine BackendHealthChecker, log *logger.Logger) *Server {
	return &Server{engine: engine, log: log}
}

// Handler assembles the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := struct {
		Status            string  `json:"status"`
		Load1             float64 `json:"load1"`
		MemUsedPercent    float64 `json:"mem_used_percent"`
		HostUptimeSeconds uint64  `json:"host_uptime_seconds"`
	}{Status: "ready"}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		resp.HostUptimeSeconds = hi.Uptime
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthSweep checks every configured backend's HealthCheck (spec §6
// health_check()) and records it via internal/metrics, mirroring the
// original's periodicx(minutes=5) health_check loop. Backends that don't
// implement jobengine.HealthChecker are reported healthy by default,
// since there's nothing to ask them.
func (s *Server) HealthSweep(ctx context.Context) {
	for name, b := range s.engine.Backends() {
		checker, ok := b.(jobengine.HealthChecker)
		if !ok {
			metrics.RecordBackendHealth(name, true)
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := checker.HealthCheck(hctx)
		cancel()
		if err != nil {
			s.log.WithField("backend", name).WithField("err", err).Warn("monitor: backend health check failed")
			metrics.RecordBackendHealth(name, false)
			continue
		}
		metrics.RecordBackendHealth(name, true)
	}
}
