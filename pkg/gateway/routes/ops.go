package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/observability/metrics"
)

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// JobFunc runs one monitor pass on demand and returns its summary.
type JobFunc func(ctx context.Context) (interface{}, error)

type OpsHandler struct {
	probes map[string]Probe
	jobs   map[string]JobFunc
}

func NewOpsHandler(probes map[string]Probe, jobs map[string]JobFunc) *OpsHandler {
	return &OpsHandler{probes: probes, jobs: jobs}
}

// Register mounts probes and scrapes on root and manual job runs on jobs.
func (h *OpsHandler) Register(root, jobs *mux.Router) {
	root.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	root.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	root.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	jobs.HandleFunc("/jobs/{name}/run", h.handleRun).Methods(http.MethodPost)
}

func (h *OpsHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.probes))
	ready := true
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *OpsHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	job, ok := h.jobs[name]
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	summary, err := job(r.Context())
	if err != nil {
		logger.Log.WithError(err).WithField("job", name).Error("manual run failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
