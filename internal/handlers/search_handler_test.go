package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// mockSearchService implements interfaces.SearchService for testing
type mockSearchService struct {
	submitFunc     func(ctx context.Context, sessionID string, req *models.SearchRequest) (*interfaces.SubmitOutcome, error)
	searchSyncFunc func(ctx context.Context, sessionID string, req *models.SearchRequest) (*models.SearchResponse, error)
	getJobFunc     func(ctx context.Context, requestID string) (*models.SearchJob, error)
	cancelFunc     func(ctx context.Context, sessionID, requestID string) error
	listFunc       func(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error)
}

func (m *mockSearchService) Submit(ctx context.Context, sessionID string, req *models.SearchRequest) (*interfaces.SubmitOutcome, error) {
	if m.submitFunc != nil {
		return m.submitFunc(ctx, sessionID, req)
	}
	return nil, nil
}

func (m *mockSearchService) SearchSync(ctx context.Context, sessionID string, req *models.SearchRequest) (*models.SearchResponse, error) {
	if m.searchSyncFunc != nil {
		return m.searchSyncFunc(ctx, sessionID, req)
	}
	return nil, nil
}

func (m *mockSearchService) GetJob(ctx context.Context, requestID string) (*models.SearchJob, error) {
	if m.getJobFunc != nil {
		return m.getJobFunc(ctx, requestID)
	}
	return nil, nil
}

func (m *mockSearchService) CancelJob(ctx context.Context, sessionID, requestID string) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, sessionID, requestID)
	}
	return nil
}

func (m *mockSearchService) ListSessionJobs(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, sessionID, limit)
	}
	return nil, nil
}

func (m *mockSearchService) ActiveRuns() int {
	return 0
}

// mockAuthorizer implements interfaces.SessionAuthorizer with the real
// ownership rules inlined
type mockAuthorizer struct{}

func (m *mockAuthorizer) AuthorizeJobRead(sessionID string, job *models.SearchJob) error {
	if sessionID == "" {
		return interfaces.ErrSessionMissing
	}
	if job == nil || job.OwnerSessionID == "" || job.OwnerSessionID != sessionID {
		return interfaces.ErrJobNotFound
	}
	return nil
}

func (m *mockAuthorizer) HashSession(sessionID string) string { return "hash" }

func testJob(requestID, owner string) *models.SearchJob {
	req := &models.SearchRequest{Query: "pizza in tel aviv"}
	return models.NewSearchJob(requestID, owner, "key-1", req, "v3")
}

func newSearchTestHandler(service interfaces.SearchService) *SearchHandler {
	return NewSearchHandler(service, &mockAuthorizer{}, arbor.NewLogger())
}

func TestHandleSearch_AsyncAccepted(t *testing.T) {
	job := testJob("req_abc", "s1")
	service := &mockSearchService{
		submitFunc: func(ctx context.Context, sessionID string, req *models.SearchRequest) (*interfaces.SubmitOutcome, error) {
			if sessionID != "s1" {
				t.Errorf("expected session s1, got %s", sessionID)
			}
			return &interfaces.SubmitOutcome{Job: job, Reused: false, Reason: "NO_CANDIDATE"}, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("POST", "/api/v1/search?mode=async", strings.NewReader(`{"query":"pizza in tel aviv"}`))
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleSearch(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var body submitAccepted
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.RequestID != "req_abc" {
		t.Errorf("expected requestId req_abc, got %s", body.RequestID)
	}
	if body.ResultURL != "/api/v1/search/req_abc/result" {
		t.Errorf("unexpected resultUrl %s", body.ResultURL)
	}
	if body.ContractsVersion != models.ContractsVersion {
		t.Errorf("expected contractsVersion %s, got %s", models.ContractsVersion, body.ContractsVersion)
	}
	if body.Deduplicated {
		t.Error("fresh submission must not be marked deduplicated")
	}
}

func TestHandleSearch_AsyncRequiresSession(t *testing.T) {
	handler := newSearchTestHandler(&mockSearchService{})

	req := httptest.NewRequest("POST", "/api/v1/search?mode=async", strings.NewReader(`{"query":"sushi"}`))
	rec := httptest.NewRecorder()

	handler.HandleSearch(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleSearch_DeduplicatedSubmission(t *testing.T) {
	job := testJob("req_dup", "s1")
	service := &mockSearchService{
		submitFunc: func(ctx context.Context, sessionID string, req *models.SearchRequest) (*interfaces.SubmitOutcome, error) {
			return &interfaces.SubmitOutcome{Job: job, Reused: true, Reason: "RUNNING_FRESH"}, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("POST", "/api/v1/search?mode=async", strings.NewReader(`{"query":"pizza"}`))
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleSearch(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for deduplicated submission, got %d", rec.Code)
	}
	var body submitAccepted
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Deduplicated {
		t.Error("expected deduplicated flag")
	}
	if body.Reason != "RUNNING_FRESH" {
		t.Errorf("expected reason RUNNING_FRESH, got %s", body.Reason)
	}
}

func TestHandleSearch_InvalidBody(t *testing.T) {
	handler := newSearchTestHandler(&mockSearchService{})

	req := httptest.NewRequest("POST", "/api/v1/search", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	handler.HandleSearch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSearch_EmptyQueryRejected(t *testing.T) {
	handler := newSearchTestHandler(&mockSearchService{})

	req := httptest.NewRequest("POST", "/api/v1/search", strings.NewReader(`{"query":""}`))
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleSearch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", rec.Code)
	}
}

func TestHandleSearch_SyncReturnsResponse(t *testing.T) {
	service := &mockSearchService{
		searchSyncFunc: func(ctx context.Context, sessionID string, req *models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{
				RequestID: "req_sync",
				Query:     models.QueryEcho{Original: req.Query},
				Results:   []models.PlaceResult{{ID: "p1", Name: "Tony's"}},
				Chips:     []models.Chip{},
				Meta:      models.ResponseMeta{Mode: "sync", AppliedFilters: []string{}},
			}, nil
		},
	}
	handler := newSearchTestHandler(service)

	// No session header and no mode: sync is the default
	req := httptest.NewRequest("POST", "/api/v1/search", strings.NewReader(`{"query":"pizza"}`))
	rec := httptest.NewRecorder()

	handler.HandleSearch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Results) != 1 {
		t.Errorf("expected 1 result, got %d", len(body.Results))
	}
}

func TestHandleResult_PendingReturns202(t *testing.T) {
	job := testJob("req_p", "s1")
	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/req_p/result", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleResult(rec, req, "req_p")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for pending job, got %d", rec.Code)
	}
	var body jobProgress
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != string(models.JobStatusPending) {
		t.Errorf("expected PENDING, got %s", body.Status)
	}
}

func TestHandleResult_SuccessReturnsPayload(t *testing.T) {
	job := testJob("req_s", "s1")
	job.MarkRunning()
	job.MarkSuccess(&models.SearchResponse{
		RequestID: "req_s",
		Results:   []models.PlaceResult{{ID: "p1"}},
		Chips:     []models.Chip{},
		Meta:      models.ResponseMeta{Source: models.SourceUpstream, AppliedFilters: []string{}},
	})

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/req_s/result", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleResult(rec, req, "req_s")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body models.SearchResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Results) != 1 {
		t.Errorf("expected stored result payload, got %d results", len(body.Results))
	}
}

func TestHandleResult_StoppedSynthesizesResponse(t *testing.T) {
	job := testJob("req_stop", "s1")
	job.MarkRunning()
	job.MarkStopped(models.StopReasonCancelled, "Search cancelled by owner")

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/req_stop/result", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleResult(rec, req, "req_stop")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for stopped job, got %d", rec.Code)
	}
	var body models.SearchResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Assist == nil || body.Assist.Type != models.AssistTypeStopped {
		t.Fatal("expected stopped assist payload")
	}
	if len(body.Results) != 0 {
		t.Error("stopped response must carry no results")
	}
}

func TestHandleResult_FailedReturns500Envelope(t *testing.T) {
	job := testJob("req_f", "s1")
	job.MarkRunning()
	job.MarkFailed(models.FailureCodeSearchFailed, "upstream unavailable", "trace_x")

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/req_f/result", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleResult(rec, req, "req_f")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body ErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != models.FailureCodeSearchFailed {
		t.Errorf("expected code SEARCH_FAILED, got %s", body.Code)
	}
	if body.TraceID != "trace_x" {
		t.Errorf("expected trace id from job, got %s", body.TraceID)
	}
}

func TestHandleResult_ForeignSessionGets404(t *testing.T) {
	job := testJob("req_x", "s1")
	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/req_x/result", nil)
	req.Header.Set("X-Session-Id", "s2")
	rec := httptest.NewRecorder()

	handler.HandleResult(rec, req, "req_x")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign session must get 404, got %d", rec.Code)
	}
}

func TestHandleResult_MissingSessionGets401(t *testing.T) {
	job := testJob("req_x", "s1")
	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/req_x/result", nil)
	rec := httptest.NewRecorder()

	handler.HandleResult(rec, req, "req_x")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing session must get 401, got %d", rec.Code)
	}
}

func TestHandleCancel_TerminalReturns409(t *testing.T) {
	job := testJob("req_done", "s1")
	job.MarkRunning()
	job.MarkSuccess(&models.SearchResponse{RequestID: "req_done"})

	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("POST", "/api/v1/search/req_done/cancel", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleCancel(rec, req, "req_done")

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal job, got %d", rec.Code)
	}
}

func TestHandleCancel_LiveJobAccepted(t *testing.T) {
	job := testJob("req_live", "s1")
	job.MarkRunning()

	cancelled := false
	service := &mockSearchService{
		getJobFunc: func(ctx context.Context, requestID string) (*models.SearchJob, error) {
			return job, nil
		},
		cancelFunc: func(ctx context.Context, sessionID, requestID string) error {
			cancelled = true
			return nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("POST", "/api/v1/search/req_live/cancel", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleCancel(rec, req, "req_live")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !cancelled {
		t.Error("cancel was not delivered to the service")
	}
}

func TestHandleListJobs_ReturnsSummaries(t *testing.T) {
	service := &mockSearchService{
		listFunc: func(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error) {
			return []*models.SearchJob{testJob("req_1", sessionID), testJob("req_2", sessionID)}, nil
		},
	}
	handler := newSearchTestHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/search/jobs", nil)
	req.Header.Set("X-Session-Id", "s1")
	rec := httptest.NewRecorder()

	handler.HandleListJobs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Jobs  []jobSummary `json:"jobs"`
		Count int          `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 2 || len(body.Jobs) != 2 {
		t.Errorf("expected 2 jobs, got count=%d len=%d", body.Count, len(body.Jobs))
	}
}
