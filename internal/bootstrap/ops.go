package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const checkTimeout = 2 * time.Second

// ReadinessCheck probes one dependency, e.g. postgres or redis.
type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

// Readiness runs the dependency checks and mirrors the outcome into the
// gRPC health service.
type Readiness struct {
	checks []ReadinessCheck
	health *health.Server
	log    logrus.FieldLogger

	mu    sync.Mutex
	ready bool
}

func NewReadiness(healthSrv *health.Server, log logrus.FieldLogger, checks ...ReadinessCheck) *Readiness {
	return &Readiness{
		checks: checks,
		health: healthSrv,
		log:    log,
	}
}

func RegisterHealth(srv *grpc.Server, healthSrv *health.Server) {
	healthpb.RegisterHealthServer(srv, healthSrv)
}

// Evaluate runs every check and returns per-check results ("ok" or the
// error text) and whether all of them passed.
func (r *Readiness) Evaluate(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(r.checks))
	ready := true
	for _, check := range r.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Check(checkCtx)
		cancel()
		if err != nil {
			ready = false
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "ok"
	}

	r.setReady(ready, results)
	return results, ready
}

func (r *Readiness) setReady(ready bool, results map[string]string) {
	r.mu.Lock()
	changed := r.ready != ready
	r.ready = ready
	r.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.health.SetServingStatus("", status)

	if changed {
		r.log.WithField("checks", results).WithField("ready", ready).Info("readiness changed")
	}
}

// Watch re-evaluates readiness every interval until ctx is done.
func (r *Readiness) Watch(ctx context.Context, interval time.Duration) {
	r.Evaluate(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evaluate(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every gRPC health watcher.
func (r *Readiness) Shutdown() {
	r.health.Shutdown()
}

// NewOpsMux serves /healthz (process liveness) and /readyz (dependency
// readiness) for orchestrators.
func NewOpsMux(r *Readiness) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}); err != nil {
		return nil, fmt.Errorf("register healthz: %w", err)
	}

	if err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, req *http.Request, _ map[string]string) {
		results, ready := r.Evaluate(req.Context())
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "checks": results})
	}); err != nil {
		return nil, fmt.Errorf("register readyz: %w", err)
	}

	return mux, nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
