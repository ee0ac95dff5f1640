package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/auth"
)

// Canned model replies for the happy and short-circuit paths
const (
	classifyContinueJSON = `{"food_signal": "YES", "language": "en", "route": "CONTINUE", "confidence": 0.92}`
	classifyStopJSON     = `{"food_signal": "NO", "language": "en", "route": "STOP", "confidence": 0.95, "message": "I can only help with restaurants."}`
	intentTextJSON       = `{"route": "TEXTSEARCH", "reason": "explicit city", "confidence": 0.88}`
	intentNearbyJSON     = `{"route": "NEARBY", "reason": "wants places nearby", "confidence": 0.9}`
)

// mockJobStorage keeps snapshots of every save so tests can assert what was
// actually journaled, not just what the shared pointer ended up holding.
type mockJobStorage struct {
	mu         sync.Mutex
	jobs       map[string]models.SearchJob
	heartbeats int
}

func newMockJobStorage() *mockJobStorage {
	return &mockJobStorage{jobs: map[string]models.SearchJob{}}
}

func (s *mockJobStorage) CreateJob(ctx context.Context, job *models.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.RequestID]; exists {
		return interfaces.ErrJobExists
	}
	s.jobs[job.RequestID] = *job
	return nil
}

func (s *mockJobStorage) SaveJob(ctx context.Context, job *models.SearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.RequestID] = *job
	return nil
}

func (s *mockJobStorage) GetJob(ctx context.Context, requestID string) (*models.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *mockJobStorage) FindByIdempotencyKey(ctx context.Context, key string) (*models.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.IdempotencyKey == key {
			found := job
			return &found, nil
		}
	}
	return nil, nil
}

func (s *mockJobStorage) UpdateHeartbeat(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	job, ok := s.jobs[requestID]
	if !ok || job.IsTerminal() {
		return nil
	}
	job.UpdatedAt = time.Now()
	s.jobs[requestID] = job
	return nil
}

func (s *mockJobStorage) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := []*models.SearchJob{}
	for _, job := range s.jobs {
		if job.OwnerSessionID == sessionID {
			found := job
			jobs = append(jobs, &found)
		}
	}
	return jobs, nil
}

func (s *mockJobStorage) ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]*models.SearchJob, error) {
	return nil, nil
}

func (s *mockJobStorage) DeleteJob(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, requestID)
	return nil
}

func (s *mockJobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (s *mockJobStorage) CountByStatus(ctx context.Context) (map[models.SearchJobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[models.SearchJobStatus]int{}
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *mockJobStorage) saved(requestID string) models.SearchJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[requestID]
}

func (s *mockJobStorage) heartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

// mockPlaces returns a fixed outcome or error, optionally after a delay that
// respects context cancellation.
type mockPlaces struct {
	mu          sync.Mutex
	outcome     *interfaces.PlacesSearchOutcome
	err         error
	delay       time.Duration
	calls       int
	lastMapping models.RouteMapping
}

func (p *mockPlaces) TextSearch(ctx context.Context, mapping *models.RouteMapping) (*interfaces.PlacesSearchOutcome, error) {
	p.mu.Lock()
	p.calls++
	p.lastMapping = *mapping
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.outcome, nil
}

func (p *mockPlaces) FetchPhoto(ctx context.Context, photoRef string, maxWidthPx int) (*interfaces.PhotoContent, error) {
	return nil, errors.New("not implemented")
}

func (p *mockPlaces) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// mockEvents records published frames
type mockEvents struct {
	mu     sync.Mutex
	events []*models.Event
}

func (e *mockEvents) Subscribe(handler interfaces.EventHandler) int { return 0 }
func (e *mockEvents) SubscribeRequest(requestID string, handler interfaces.EventHandler) int {
	return 0
}
func (e *mockEvents) Unsubscribe(id int) {}
func (e *mockEvents) Close() error       { return nil }

func (e *mockEvents) Publish(ctx context.Context, event *models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *mockEvents) PublishSync(ctx context.Context, event *models.Event) {
	e.Publish(ctx, event)
}

func (e *mockEvents) byType(eventType models.EventType) *models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, event := range e.events {
		if event.Type == eventType {
			return event
		}
	}
	return nil
}

func (e *mockEvents) types() []models.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	types := make([]models.EventType, 0, len(e.events))
	for _, event := range e.events {
		types = append(types, event.Type)
	}
	return types
}

func testPipelineConfig() *common.PipelineConfig {
	return &common.PipelineConfig{
		Deadline:          "5s",
		HeartbeatInterval: "50ms",
		StageTimeout:      "500ms",
		Version:           "p1",
		RelevanceWeights: common.RankWeightsConfig{
			Rating: 0.35, Reviews: 0.25, Distance: 0.15, OpenBoost: 0.10, CuisineMatch: 0.15,
		},
		DistanceWeights: common.RankWeightsConfig{
			Rating: 0.20, Reviews: 0.10, Distance: 0.50, OpenBoost: 0.10, CuisineMatch: 0.10,
		},
	}
}

func newTestRunner(generator ContentGenerator, jobs interfaces.SearchJobStorage, places interfaces.PlacesService, events interfaces.EventService, config *common.PipelineConfig) *Runner {
	logger := arbor.NewLogger()
	if config == nil {
		config = testPipelineConfig()
	}
	return NewRunner(generator, NewPromptRegistry("", logger), jobs, places, events, auth.NewService(logger), config, logger)
}

func newTestJob(requestID, query string) *models.SearchJob {
	request := &models.SearchRequest{
		Query:             query,
		SearchLanguage:    "en",
		AssistantLanguage: "en",
		Region:            "US",
	}
	return models.NewSearchJob(requestID, "session-test-1", "idem-"+requestID, request, "p1")
}

func placesOutcome() *interfaces.PlacesSearchOutcome {
	return &interfaces.PlacesSearchOutcome{
		Results: []models.Place{
			{ID: "a", Name: "Ichiran", Rating: 4.6, ReviewCount: 2400, OpenNow: models.OpenNowOpen},
			{ID: "b", Name: "Afuri", Rating: 4.4, ReviewCount: 1100, OpenNow: models.OpenNowUnknown},
		},
		ServedFrom: models.SourceUpstream,
		Pages:      1,
	}
}

func TestRunnerSuccessPath(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyContinueJSON, intentTextJSON}}
	store := newMockJobStorage()
	places := &mockPlaces{outcome: placesOutcome(), delay: 120 * time.Millisecond}
	events := &mockEvents{}
	runner := newTestRunner(generator, store, places, events, nil)

	job := newTestJob("req_run_success", "ramen in shibuya")
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	runner.Run(context.Background(), job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneSuccess {
		t.Fatalf("status = %s, want DONE_SUCCESS (error: %+v)", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d", job.Progress)
	}
	if job.Result == nil || len(job.Result.Results) != 2 {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.Language != "en" {
		t.Errorf("detected language = %q", job.Language)
	}

	if places.callCount() != 1 {
		t.Errorf("provider calls = %d", places.callCount())
	}
	if places.lastMapping.Route != models.RouteTextSearch {
		t.Errorf("mapping route = %s", places.lastMapping.Route)
	}

	saved := store.saved(job.RequestID)
	if saved.Status != models.JobStatusDoneSuccess {
		t.Errorf("journaled status = %s, want DONE_SUCCESS", saved.Status)
	}

	if event := events.byType(models.EventProgress); event == nil {
		t.Error("no progress frame published")
	} else if event.Stage != StageAccepted {
		t.Errorf("first progress stage = %q", event.Stage)
	}
	ready := events.byType(models.EventReady)
	if ready == nil {
		t.Fatalf("no ready frame published, saw %v", events.types())
	}
	if ready.Data["results"] != 2 {
		t.Errorf("ready results = %v", ready.Data["results"])
	}

	if store.heartbeatCount() < 1 {
		t.Error("heartbeat never fired during the provider call")
	}
}

func TestRunnerStopShortCircuitsBeforeProvider(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyStopJSON}}
	store := newMockJobStorage()
	places := &mockPlaces{outcome: placesOutcome()}
	events := &mockEvents{}
	runner := newTestRunner(generator, store, places, events, nil)

	job := newTestJob("req_run_stop", "what's the weather tomorrow")
	runner.Run(context.Background(), job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneStopped {
		t.Fatalf("status = %s, want DONE_STOPPED", job.Status)
	}
	if job.StopReason != models.StopReasonLowConfidence {
		t.Errorf("stop reason = %q", job.StopReason)
	}
	if job.StopMessage != "I can only help with restaurants." {
		t.Errorf("stop message = %q", job.StopMessage)
	}
	if job.Result != nil {
		t.Error("stopped job stored a result payload")
	}
	if places.callCount() != 0 {
		t.Errorf("provider called %d times on a stopped query", places.callCount())
	}
	if events.byType(models.EventStopped) == nil {
		t.Errorf("no stopped frame published, saw %v", events.types())
	}
	if events.byType(models.EventReady) != nil {
		t.Error("ready frame published for a stopped job")
	}
}

func TestRunnerClarifiesOnMissingAnchor(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyContinueJSON, intentNearbyJSON}}
	store := newMockJobStorage()
	places := &mockPlaces{outcome: placesOutcome()}
	events := &mockEvents{}
	runner := newTestRunner(generator, store, places, events, nil)

	// NEARBY intent with no coordinates and no city anywhere
	job := newTestJob("req_run_anchor", "ramen nearby")
	runner.Run(context.Background(), job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneClarify {
		t.Fatalf("status = %s, want DONE_CLARIFY", job.Status)
	}
	if job.Result == nil || job.Result.Assist == nil {
		t.Fatal("clarify job stored no assist payload")
	}
	assist := job.Result.Assist
	if assist.Type != models.AssistTypeClarify || !assist.BlocksSearch {
		t.Errorf("assist = %+v", assist)
	}
	if assist.SuggestedAction != suggestedActionAskLocation {
		t.Errorf("suggested action = %q", assist.SuggestedAction)
	}
	if places.callCount() != 0 {
		t.Errorf("provider called %d times despite the blocking clarify", places.callCount())
	}

	clarify := events.byType(models.EventClarify)
	if clarify == nil {
		t.Fatalf("no clarify frame published, saw %v", events.types())
	}
	if clarify.Data["blocksSearch"] != true {
		t.Errorf("clarify frame data = %v", clarify.Data)
	}
}

func TestRunnerProviderFailureIsSearchFailed(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyContinueJSON, intentTextJSON}}
	store := newMockJobStorage()
	places := &mockPlaces{err: &interfaces.ProviderError{
		Kind:       interfaces.ProviderErrorHTTP,
		StatusCode: 502,
		Err:        errors.New("bad gateway"),
	}}
	events := &mockEvents{}
	runner := newTestRunner(generator, store, places, events, nil)

	job := newTestJob("req_run_fail", "ramen in shibuya")
	runner.Run(context.Background(), job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneFailed {
		t.Fatalf("status = %s, want DONE_FAILED", job.Status)
	}
	if job.Error == nil || job.Error.Code != models.FailureCodeSearchFailed {
		t.Fatalf("error = %+v", job.Error)
	}
	if strings.Contains(job.Error.Message, "bad gateway") {
		t.Error("raw provider error leaked into the client-facing message")
	}
	if !strings.HasPrefix(job.TraceID, "trace_") {
		t.Errorf("trace id = %q", job.TraceID)
	}

	errorEvent := events.byType(models.EventError)
	if errorEvent == nil {
		t.Fatalf("no error frame published, saw %v", events.types())
	}
	if errorEvent.Data["traceId"] != job.TraceID {
		t.Errorf("frame trace id = %v, job trace id = %s", errorEvent.Data["traceId"], job.TraceID)
	}
}

func TestRunnerProviderTimeoutKind(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyContinueJSON, intentTextJSON}}
	places := &mockPlaces{err: &interfaces.ProviderError{
		Kind: interfaces.ProviderErrorTimeout,
		Err:  context.DeadlineExceeded,
	}}
	runner := newTestRunner(generator, newMockJobStorage(), places, &mockEvents{}, nil)

	job := newTestJob("req_run_ptimeout", "ramen in shibuya")
	runner.Run(context.Background(), job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneFailed {
		t.Fatalf("status = %s, want DONE_FAILED", job.Status)
	}
	if job.Error == nil || job.Error.Code != models.FailureCodeTimeout {
		t.Errorf("error = %+v, want TIMEOUT", job.Error)
	}
}

func TestRunnerDeadlineTimesOut(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyContinueJSON, intentTextJSON}}
	store := newMockJobStorage()
	places := &mockPlaces{outcome: placesOutcome(), delay: 200 * time.Millisecond}
	events := &mockEvents{}

	config := testPipelineConfig()
	config.Deadline = "30ms"
	runner := newTestRunner(generator, store, places, events, config)

	job := newTestJob("req_run_deadline", "ramen in shibuya")
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	runner.Run(context.Background(), job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneFailed {
		t.Fatalf("status = %s, want DONE_FAILED", job.Status)
	}
	if job.Error == nil || job.Error.Code != models.FailureCodeTimeout {
		t.Fatalf("error = %+v, want TIMEOUT", job.Error)
	}

	// The terminal write must land even though the run context is dead
	saved := store.saved(job.RequestID)
	if saved.Status != models.JobStatusDoneFailed {
		t.Errorf("journaled status = %s, want DONE_FAILED", saved.Status)
	}
	if events.byType(models.EventError) == nil {
		t.Errorf("no error frame published, saw %v", events.types())
	}
}

func TestRunnerOwnerCancelStops(t *testing.T) {
	generator := &stubGenerator{responses: []string{classifyContinueJSON, intentTextJSON}}
	store := newMockJobStorage()
	places := &mockPlaces{outcome: placesOutcome(), delay: 300 * time.Millisecond}
	events := &mockEvents{}
	runner := newTestRunner(generator, store, places, events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	job := newTestJob("req_run_cancel", "ramen in shibuya")
	runner.Run(ctx, job, models.SearchModeAsync)

	if job.Status != models.JobStatusDoneStopped {
		t.Fatalf("status = %s, want DONE_STOPPED", job.Status)
	}
	if job.StopReason != models.StopReasonCancelled {
		t.Errorf("stop reason = %q", job.StopReason)
	}
	if job.StopMessage != messageFor("en", "cancelled") {
		t.Errorf("stop message = %q", job.StopMessage)
	}

	saved := store.saved(job.RequestID)
	if saved.Status != models.JobStatusDoneStopped {
		t.Errorf("journaled status = %s, want DONE_STOPPED", saved.Status)
	}
	if events.byType(models.EventStopped) == nil {
		t.Errorf("no stopped frame published, saw %v", events.types())
	}
}
