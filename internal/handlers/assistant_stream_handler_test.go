package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/pipeline"
)

func newStreamTestHandler(service *mockSearchService, poll, timeout string) *AssistantStreamHandler {
	logger := arbor.NewLogger()
	narrator := pipeline.NewNarrator(nil, pipeline.NewPromptRegistry("", logger), 0, logger)
	return NewAssistantStreamHandler(service, &mockAuthorizer{}, narrator, &common.StreamConfig{
		PollInterval: poll,
		Timeout:      timeout,
	}, logger)
}

func TestStreamAssistant_TerminalSuccessEmitsFullSequence(t *testing.T) {
	job := testJob("req_sse", "s1")
	job.MarkRunning()
	job.MarkSuccess(&models.SearchResponse{
		RequestID: "req_sse",
		Results: []models.PlaceResult{
			{ID: "p1", Name: "Trattoria Roma"},
			{ID: "p2", Name: "Pizza Luigi"},
		},
		Chips: []models.Chip{},
		Assist: &models.AssistPayload{
			Type:    models.AssistTypeSummary,
			Message: "I found 2 places.",
		},
		Meta: models.ResponseMeta{AppliedFilters: []string{}},
	})

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newStreamTestHandler(service, "5ms", "1s")

	req := httptest.NewRequest("GET", "/api/v1/stream/assistant/req_sse", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.StreamAssistant(rec, req, "req_sse")

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("expected SSE content type, got %s", rec.Header().Get("Content-Type"))
	}
	for _, event := range []string{"event: meta", "event: narration", "event: message", "event: done"} {
		if !strings.Contains(body, event) {
			t.Errorf("stream missing %q:\n%s", event, body)
		}
	}
	if !strings.Contains(body, "Trattoria Roma") {
		t.Error("narration should mention a top result name")
	}
	if !strings.Contains(body, `"contractsVersion":"v1"`) {
		t.Error("frames must carry the contracts version")
	}
}

func TestStreamAssistant_PendingJobStreamsUntilTerminal(t *testing.T) {
	job := testJob("req_wait", "s1")

	var mu sync.Mutex
	polls := 0
	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			mu.Lock()
			defer mu.Unlock()
			polls++
			if polls == 3 {
				job.MarkRunning()
				job.SetProgress(40, "provider_call")
			}
			if polls >= 5 && !job.IsTerminal() {
				job.MarkStopped(models.StopReasonLowConfidence, "not a food query")
			}
			return job, nil
		},
	}
	handler := newStreamTestHandler(service, "2ms", "2s")

	req := httptest.NewRequest("GET", "/api/v1/stream/assistant/req_wait", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.StreamAssistant(rec, req, "req_wait")

	body := rec.Body.String()
	if !strings.Contains(body, "event: progress") {
		t.Errorf("expected progress frame while running:\n%s", body)
	}
	if !strings.Contains(body, "event: message") {
		t.Errorf("expected message frame for stopped terminal:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("expected done frame:\n%s", body)
	}
	if !strings.Contains(body, string(models.JobStatusDoneStopped)) {
		t.Error("done frame should carry the terminal status")
	}
}

func TestStreamAssistant_FailedJobEmitsErrorFrame(t *testing.T) {
	job := testJob("req_fail", "s1")
	job.MarkRunning()
	job.MarkFailed(models.FailureCodeTimeout, "search timed out", "trace_1")

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newStreamTestHandler(service, "5ms", "1s")

	req := httptest.NewRequest("GET", "/api/v1/stream/assistant/req_fail", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.StreamAssistant(rec, req, "req_fail")

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error frame:\n%s", body)
	}
	if !strings.Contains(body, models.FailureCodeTimeout) {
		t.Error("error frame should carry the failure code")
	}
	if !strings.Contains(body, "trace_1") {
		t.Error("error frame should carry the trace id")
	}
}

func TestStreamAssistant_ForeignSessionGets404BeforeStream(t *testing.T) {
	job := testJob("req_priv", "s1")
	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newStreamTestHandler(service, "5ms", "1s")

	req := httptest.NewRequest("GET", "/api/v1/stream/assistant/req_priv", nil)
	req.Header.Set("X-Session-Id", "s2")
	rec := httptest.NewRecorder()

	handler.StreamAssistant(rec, req, "req_priv")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign session must get 404, got %d", rec.Code)
	}
	if strings.Contains(rec.Header().Get("Content-Type"), "text/event-stream") {
		t.Error("authorization failure must not start an SSE stream")
	}
}

func TestStreamAssistant_TimeoutEmitsErrorAndDone(t *testing.T) {
	job := testJob("req_slow", "s1")
	job.MarkRunning()

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newStreamTestHandler(service, "5ms", "30ms")

	req := httptest.NewRequest("GET", "/api/v1/stream/assistant/req_slow", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.StreamAssistant(rec, req, "req_slow")

	body := rec.Body.String()
	if !strings.Contains(body, "STREAM_TIMEOUT") {
		t.Errorf("expected STREAM_TIMEOUT error frame:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Error("timeout must still end with a done frame")
	}
}
