// -----------------------------------------------------------------------
// Search Handler - Submission, polling, cancellation, session job list
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/auth"
	"github.com/ternarybob/gusto/internal/services/pipeline"
)

// SearchHandler exposes the async search contract: accept-and-poll with
// session-scoped reads. Submission never blocks on the pipeline; the
// result endpoint is the single read path for every terminal shape.
type SearchHandler struct {
	service    interfaces.SearchService
	authorizer interfaces.SessionAuthorizer
	logger     arbor.ILogger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(service interfaces.SearchService, authorizer interfaces.SessionAuthorizer, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		service:    service,
		authorizer: authorizer,
		logger:     logger,
	}
}

// submitAccepted is the 202 body returned for async submissions
type submitAccepted struct {
	RequestID        string `json:"requestId"`
	ResultURL        string `json:"resultUrl"`
	ContractsVersion string `json:"contractsVersion"`
	Deduplicated     bool   `json:"deduplicated,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// jobProgress is the 202 body returned while a job is still in flight
type jobProgress struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Stage     string `json:"stage,omitempty"`
}

// HandleSearch handles POST /search. mode=async submits a job and returns
// 202 immediately; mode=sync runs the pipeline inline and returns the full
// response. When mode is absent the session header decides: browser
// clients send one and poll, headless callers without a session get the
// blocking behavior they expect.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sessionID := auth.SessionFromRequest(r)
	mode := strings.ToLower(r.URL.Query().Get("mode"))
	if mode == "" {
		if sessionID != "" {
			mode = models.SearchModeAsync
		} else {
			mode = models.SearchModeSync
		}
	}

	switch mode {
	case models.SearchModeAsync:
		h.handleAsync(w, r, sessionID, &req)
	case models.SearchModeSync:
		h.handleSync(w, r, sessionID, &req)
	default:
		WriteError(w, http.StatusBadRequest, "INVALID_MODE", fmt.Sprintf("unknown mode %q", mode))
	}
}

func (h *SearchHandler) handleAsync(w http.ResponseWriter, r *http.Request, sessionID string, req *models.SearchRequest) {
	if sessionID == "" {
		WriteError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "async search requires the X-Session-Id header")
		return
	}

	outcome, err := h.service.Submit(r.Context(), sessionID, req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Search submission failed")
		WriteError(w, http.StatusInternalServerError, "SUBMIT_FAILED", "failed to submit search")
		return
	}

	WriteJSON(w, http.StatusAccepted, submitAccepted{
		RequestID:        outcome.Job.RequestID,
		ResultURL:        fmt.Sprintf("/api/v1/search/%s/result", outcome.Job.RequestID),
		ContractsVersion: models.ContractsVersion,
		Deduplicated:     outcome.Reused,
		Reason:           outcome.Reason,
	})
}

func (h *SearchHandler) handleSync(w http.ResponseWriter, r *http.Request, sessionID string, req *models.SearchRequest) {
	// Sync callers without a session get an ephemeral one so job records
	// stay owner-bound. The id is never returned; the caller cannot poll.
	if sessionID == "" {
		sessionID = "sync-" + time.Now().Format("20060102T150405.000000000")
	}

	started := time.Now()
	response, err := h.service.SearchSync(r.Context(), sessionID, req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Synchronous search failed")
		WriteError(w, http.StatusInternalServerError, "SEARCH_FAILED", "search failed")
		return
	}

	h.logger.Info().
		Str("request_id", response.RequestID).
		Int64("took_ms", time.Since(started).Milliseconds()).
		Int("results", len(response.Results)).
		Msg("Synchronous search completed")

	WriteJSON(w, http.StatusOK, response)
}

// HandleResult handles GET /search/:requestId/result. In-flight jobs
// answer 202 with progress; DONE_SUCCESS, DONE_CLARIFY, and DONE_STOPPED
// answer 200 with the response payload; DONE_FAILED answers 500 with the
// stable error envelope. 409 is never used on this endpoint.
func (h *SearchHandler) HandleResult(w http.ResponseWriter, r *http.Request, requestID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job := h.authorizedJob(w, r, requestID)
	if job == nil {
		return
	}

	switch job.Status {
	case models.JobStatusPending, models.JobStatusRunning:
		WriteJSON(w, http.StatusAccepted, jobProgress{
			RequestID: job.RequestID,
			Status:    string(job.Status),
			Progress:  job.Progress,
			Stage:     job.Stage,
		})
	case models.JobStatusDoneSuccess, models.JobStatusDoneClarify:
		WriteJSON(w, http.StatusOK, job.Result)
	case models.JobStatusDoneStopped:
		WriteJSON(w, http.StatusOK, pipeline.BuildStoppedResponse(job))
	case models.JobStatusDoneFailed:
		code := models.FailureCodeInternal
		message := "search failed"
		if job.Error != nil {
			code = job.Error.Code
			message = job.Error.Message
		}
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{
			Code:    code,
			Message: message,
			TraceID: job.TraceID,
		})
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "job is in an unknown state")
	}
}

// HandleCancel handles POST /search/:requestId/cancel. Terminal jobs
// answer 409; live jobs get the cancel signal and answer 202. The actual
// DONE_STOPPED transition is observed through the result endpoint.
func (h *SearchHandler) HandleCancel(w http.ResponseWriter, r *http.Request, requestID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	job := h.authorizedJob(w, r, requestID)
	if job == nil {
		return
	}
	if job.IsTerminal() {
		WriteError(w, http.StatusConflict, "ALREADY_TERMINAL", "job has already finished")
		return
	}

	sessionID := auth.SessionFromRequest(r)
	if err := h.service.CancelJob(r.Context(), sessionID, requestID); err != nil {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("Cancellation failed")
		WriteError(w, http.StatusInternalServerError, "CANCEL_FAILED", "failed to cancel search")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"requestId": requestID,
		"status":    "cancelling",
	})
}

// jobSummary is the session job list projection. Full payloads stay on
// the result endpoint.
type jobSummary struct {
	RequestID   string     `json:"requestId"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Query       string     `json:"query"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// HandleListJobs handles GET /search/jobs, the session's recent jobs
func (h *SearchHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionID := auth.SessionFromRequest(r)
	if sessionID == "" {
		WriteError(w, http.StatusUnauthorized, "SESSION_REQUIRED", "X-Session-Id header is required")
		return
	}

	jobs, err := h.service.ListSessionJobs(r.Context(), sessionID, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Session job list failed")
		WriteError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list jobs")
		return
	}

	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary{
			RequestID:   job.RequestID,
			Status:      string(job.Status),
			Progress:    job.Progress,
			Query:       job.Query,
			CreatedAt:   job.CreatedAt,
			CompletedAt: job.CompletedAt,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  summaries,
		"count": len(summaries),
	})
}

// authorizedJob loads the job and enforces session ownership, writing the
// 401/404 response itself on failure. Absent and foreign jobs are
// indistinguishable on the wire.
func (h *SearchHandler) authorizedJob(w http.ResponseWriter, r *http.Request, requestID string) *models.SearchJob {
	sessionID := auth.SessionFromRequest(r)

	job, err := h.service.GetJob(r.Context(), requestID)
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("Job load failed")
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to load job")
		return nil
	}

	if err := h.authorizer.AuthorizeJobRead(sessionID, job); err != nil {
		WriteAuthError(w, err)
		return nil
	}
	return job
}
