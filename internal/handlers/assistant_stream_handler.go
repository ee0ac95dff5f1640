// -----------------------------------------------------------------------
// Assistant Stream Handler - SSE narration channel for one search job
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/auth"
	"github.com/ternarybob/gusto/internal/services/pipeline"
)

const (
	defaultStreamPoll    = 150 * time.Millisecond
	defaultStreamTimeout = 35 * time.Second
	streamPingInterval   = 15 * time.Second
)

// AssistantStreamHandler streams the assistant-facing view of one search
// job over SSE: a meta frame on connect, progress while the pipeline
// runs, then narration and the final message before the done frame. The
// stream is read-only; it polls the job store and never touches the run.
type AssistantStreamHandler struct {
	service    interfaces.SearchService
	authorizer interfaces.SessionAuthorizer
	narrator   *pipeline.Narrator
	poll       time.Duration
	timeout    time.Duration
	logger     arbor.ILogger
}

// NewAssistantStreamHandler creates the SSE stream handler
func NewAssistantStreamHandler(
	service interfaces.SearchService,
	authorizer interfaces.SessionAuthorizer,
	narrator *pipeline.Narrator,
	config *common.StreamConfig,
	logger arbor.ILogger,
) *AssistantStreamHandler {
	return &AssistantStreamHandler{
		service:    service,
		authorizer: authorizer,
		narrator:   narrator,
		poll:       common.ParseDurationOr(config.PollInterval, defaultStreamPoll),
		timeout:    common.ParseDurationOr(config.Timeout, defaultStreamTimeout),
		logger:     logger,
	}
}

// StreamAssistant handles GET /stream/assistant/:requestId. Authorization
// runs before any SSE byte is written so 401/404 stay clean JSON.
func (h *AssistantStreamHandler) StreamAssistant(w http.ResponseWriter, r *http.Request, requestID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionID := auth.SessionFromRequest(r)
	job, err := h.service.GetJob(r.Context(), requestID)
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("Stream job load failed")
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "failed to load job")
		return
	}
	if err := h.authorizer.AuthorizeJobRead(sessionID, job); err != nil {
		WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Flush headers immediately to trigger the browser's EventSource.onopen
	flusher.Flush()

	h.sendFrame(w, flusher, models.NewEvent(models.EventMeta, job.RequestID, job.Stage, map[string]interface{}{
		"status":   string(job.Status),
		"progress": job.Progress,
	}))

	if job.IsTerminal() {
		h.emitTerminal(w, flusher, r, job)
		return
	}

	pollTicker := time.NewTicker(h.poll)
	pingTicker := time.NewTicker(streamPingInterval)
	deadline := time.NewTimer(h.timeout)
	defer pollTicker.Stop()
	defer pingTicker.Stop()
	defer deadline.Stop()

	lastProgress := job.Progress
	lastStage := job.Stage

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadline.C:
			h.sendFrame(w, flusher, models.NewEvent(models.EventError, requestID, lastStage, map[string]interface{}{
				"code":    "STREAM_TIMEOUT",
				"message": "search did not finish before the stream timeout",
				"traceId": common.NewTraceID(),
			}))
			h.sendDone(w, flusher, requestID, string(models.JobStatusRunning))
			return

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()

		case <-pollTicker.C:
			current, err := h.service.GetJob(r.Context(), requestID)
			if err != nil || current == nil {
				continue
			}

			if current.IsTerminal() {
				h.emitTerminal(w, flusher, r, current)
				return
			}

			if current.Progress != lastProgress || current.Stage != lastStage {
				lastProgress = current.Progress
				lastStage = current.Stage
				h.sendFrame(w, flusher, models.NewEvent(models.EventProgress, requestID, current.Stage, map[string]interface{}{
					"status":   string(current.Status),
					"progress": current.Progress,
				}))
			}
		}
	}
}

// emitTerminal writes the final frame sequence for a terminal job:
// narration (success only), then the message or error, then done.
func (h *AssistantStreamHandler) emitTerminal(w http.ResponseWriter, flusher http.Flusher, r *http.Request, job *models.SearchJob) {
	switch job.Status {
	case models.JobStatusDoneSuccess:
		h.emitSuccess(w, flusher, r, job)
	case models.JobStatusDoneClarify:
		h.emitAssist(w, flusher, job, job.Result)
	case models.JobStatusDoneStopped:
		h.emitAssist(w, flusher, job, pipeline.BuildStoppedResponse(job))
	case models.JobStatusDoneFailed:
		code := models.FailureCodeInternal
		message := "search failed"
		if job.Error != nil {
			code = job.Error.Code
			message = job.Error.Message
		}
		h.sendFrame(w, flusher, models.NewEvent(models.EventError, job.RequestID, job.Stage, map[string]interface{}{
			"code":    code,
			"message": message,
			"traceId": job.TraceID,
		}))
	}

	h.sendDone(w, flusher, job.RequestID, string(job.Status))
}

func (h *AssistantStreamHandler) emitSuccess(w http.ResponseWriter, flusher http.Flusher, r *http.Request, job *models.SearchJob) {
	result := job.Result
	if result == nil {
		h.sendFrame(w, flusher, models.NewEvent(models.EventError, job.RequestID, job.Stage, map[string]interface{}{
			"code":    models.FailureCodeInternal,
			"message": "job finished without a result payload",
			"traceId": common.NewTraceID(),
		}))
		return
	}

	lang := "en"
	if job.Request != nil && job.Request.AssistantLanguage != "" {
		lang = job.Request.AssistantLanguage
	}
	names := make([]string, 0, 3)
	for _, place := range result.Results {
		if len(names) == 3 {
			break
		}
		if place.Name != "" {
			names = append(names, place.Name)
		}
	}

	narration := h.narrator.Narrate(r.Context(), lang, job.Query, len(result.Results), names)
	h.sendFrame(w, flusher, models.NewEvent(models.EventNarration, job.RequestID, job.Stage, map[string]interface{}{
		"text": narration,
	}))

	data := map[string]interface{}{
		"resultUrl": fmt.Sprintf("/api/v1/search/%s/result", job.RequestID),
		"results":   len(result.Results),
	}
	if result.Assist != nil {
		data["assist"] = result.Assist
	}
	h.sendFrame(w, flusher, models.NewEvent(models.EventMessage, job.RequestID, job.Stage, data))
}

// emitAssist writes the message frame for clarify and stopped terminals
func (h *AssistantStreamHandler) emitAssist(w http.ResponseWriter, flusher http.Flusher, job *models.SearchJob, response *models.SearchResponse) {
	data := map[string]interface{}{
		"resultUrl": fmt.Sprintf("/api/v1/search/%s/result", job.RequestID),
	}
	if response != nil && response.Assist != nil {
		data["assist"] = response.Assist
	}
	h.sendFrame(w, flusher, models.NewEvent(models.EventMessage, job.RequestID, job.Stage, data))
}

func (h *AssistantStreamHandler) sendDone(w http.ResponseWriter, flusher http.Flusher, requestID, status string) {
	h.sendFrame(w, flusher, models.NewEvent(models.EventDone, requestID, "", map[string]interface{}{
		"status": status,
	}))
}

// sendFrame writes one SSE event; the event name mirrors the frame type
func (h *AssistantStreamHandler) sendFrame(w http.ResponseWriter, flusher http.Flusher, event *models.Event) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal SSE frame")
		return
	}

	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
