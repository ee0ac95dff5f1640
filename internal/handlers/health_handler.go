package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
)

// HealthHandler serves the liveness probe and component health report
type HealthHandler struct {
	storage interfaces.StorageManager
	service interfaces.SearchService
	config  *common.Config
	logger  arbor.ILogger
}

func NewHealthHandler(storage interfaces.StorageManager, service interfaces.SearchService, config *common.Config, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		service: service,
		config:  config,
		logger:  logger,
	}
}

// HandleHealthz is the unversioned liveness probe
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleHealth reports per-component health. The endpoint always answers 200;
// load balancers should probe /healthz instead.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := "ok"
	components := make(map[string]interface{})

	storageHealth := map[string]interface{}{"status": "up"}
	if h.storage != nil {
		counts, err := h.storage.JobStorage().CountByStatus(r.Context())
		if err != nil {
			status = "degraded"
			storageHealth["status"] = "down"
			storageHealth["error"] = err.Error()
			h.logger.Warn().Err(err).Msg("Storage health check failed")
		} else {
			jobs := make(map[string]int, len(counts))
			for jobStatus, count := range counts {
				jobs[string(jobStatus)] = count
			}
			storageHealth["jobs"] = jobs
		}
	} else {
		status = "degraded"
		storageHealth["status"] = "down"
	}
	components["storage"] = storageHealth

	if h.config != nil {
		components["llm"] = map[string]interface{}{
			"provider":   string(h.config.LLM.DefaultProvider),
			"configured": h.config.Gemini.APIKey != "" || h.config.Claude.APIKey != "",
		}
		components["places"] = map[string]interface{}{
			"configured": h.config.Places.APIKey != "",
		}
	}

	if h.service != nil {
		components["active_runs"] = h.service.ActiveRuns()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// HandleVersion returns build identification
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HandleNotFound answers unknown API paths with the error envelope
func (h *HealthHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "NOT_FOUND", "The requested endpoint does not exist")
}
