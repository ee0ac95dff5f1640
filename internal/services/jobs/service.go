// -----------------------------------------------------------------------
// Search Service - Submission, deduplication, and job lifecycle control
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/ternarybob/gusto/internal/services/pipeline"
)

const (
	defaultHeartbeatWindow  = 45 * time.Second
	defaultMaxRunningAge    = 5 * time.Minute
	defaultSessionListLimit = 20
	syncRunTimeout          = 40 * time.Second
)

// Service implements the controller-facing search API. Submissions are
// deduplicated against in-flight and recently finished work via the
// idempotency key before a pipeline runner is spawned. The service owns
// the runner registry so owner cancellation reaches live run contexts.
type Service struct {
	storage    interfaces.SearchJobStorage
	runner     *pipeline.Runner
	authorizer interfaces.SessionAuthorizer
	registry   *RunnerRegistry
	windows    DedupWindows
	listLimit  int
	version    string
	logger     arbor.ILogger
}

// NewService creates the search service
func NewService(
	storage interfaces.SearchJobStorage,
	runner *pipeline.Runner,
	authorizer interfaces.SessionAuthorizer,
	dedupConfig *common.DedupConfig,
	jobsConfig *common.JobsConfig,
	pipelineVersion string,
	logger arbor.ILogger,
) interfaces.SearchService {
	windows := DedupWindows{
		Heartbeat: common.ParseDurationOr(dedupConfig.HeartbeatWindow, defaultHeartbeatWindow),
		MaxAge:    common.ParseDurationOr(dedupConfig.MaxAge, defaultMaxRunningAge),
	}
	listLimit := jobsConfig.SessionListLimit
	if listLimit <= 0 {
		listLimit = defaultSessionListLimit
	}

	return &Service{
		storage:    storage,
		runner:     runner,
		authorizer: authorizer,
		registry:   NewRunnerRegistry(),
		windows:    windows,
		listLimit:  listLimit,
		version:    pipelineVersion,
		logger:     logger,
	}
}

// Submit registers an async search. A candidate job under the same
// idempotency key is consulted first; when the decider says REUSE the
// caller polls the existing job instead of paying for a second pipeline
// run. New jobs are persisted as PENDING before the runner goroutine is
// spawned so a poll arriving before the first stage sees a real record.
func (s *Service) Submit(ctx context.Context, sessionID string, req *models.SearchRequest) (*interfaces.SubmitOutcome, error) {
	if sessionID == "" {
		return nil, interfaces.ErrSessionMissing
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	key := ComputeIdempotencyKey(req, s.version)

	candidate, err := s.storage.FindByIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Idempotency lookup failed, proceeding with new job")
		candidate = nil
	}

	decision := Decide(candidate, time.Now(), s.windows)
	if decision.Reuse {
		// Reuse only surfaces jobs the session may read. A foreign owner
		// means two sessions typed the same query; they each get their own
		// job rather than a window into someone else's.
		if authErr := s.authorizer.AuthorizeJobRead(sessionID, decision.Job); authErr == nil {
			s.logger.Info().
				Str("request_id", decision.Job.RequestID).
				Str("session_hash", s.authorizer.HashSession(sessionID)).
				Str("reason", decision.Reason).
				Msg("Submission deduplicated")
			return &interfaces.SubmitOutcome{Job: decision.Job, Reused: true, Reason: decision.Reason}, nil
		}
		decision.Reason = ReasonNoCandidate
	}

	job := models.NewSearchJob(common.NewRequestID(), sessionID, key, req, s.version)
	if err := s.storage.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.logger.Info().
		Str("request_id", job.RequestID).
		Str("session_hash", s.authorizer.HashSession(sessionID)).
		Str("reason", decision.Reason).
		Msg("New search job created")

	s.spawn(job)

	return &interfaces.SubmitOutcome{Job: job, Reused: false, Reason: decision.Reason}, nil
}

// spawn runs the pipeline on a goroutine with a registry-tracked cancel.
// The run context derives from Background, not the submit request: the
// submitting HTTP request finishes long before the pipeline does.
func (s *Service) spawn(job *models.SearchJob) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.registry.Register(job.RequestID, cancel)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("request_id", job.RequestID).
					Str("panic", fmt.Sprintf("%v", r)).
					Msg("Pipeline runner panicked")
			}
			s.registry.Unregister(job.RequestID)
			cancel()
		}()
		s.runner.Run(runCtx, job, models.SearchModeAsync)
	}()
}

// SearchSync runs the pipeline inline and returns the terminal response.
// The job record is still persisted so retries and dedup behave the same
// as async submissions.
func (s *Service) SearchSync(ctx context.Context, sessionID string, req *models.SearchRequest) (*models.SearchResponse, error) {
	outcome, err := s.Submit(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	if outcome.Reused && outcome.Job.IsTerminal() {
		return s.responseFor(outcome.Job)
	}

	// Reused PENDING/RUNNING jobs are already being driven by their own
	// runner; both paths reduce to waiting on the record going terminal.
	waitCtx, cancel := context.WithTimeout(ctx, syncRunTimeout)
	defer cancel()

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("synchronous search timed out for %s", outcome.Job.RequestID)
		case <-ticker.C:
			job, err := s.storage.GetJob(waitCtx, outcome.Job.RequestID)
			if err != nil || job == nil {
				continue
			}
			if job.IsTerminal() {
				return s.responseFor(job)
			}
		}
	}
}

// responseFor extracts the client response from a terminal job. Stopped
// jobs carry no stored payload; their response is synthesized from the
// stop bookkeeping.
func (s *Service) responseFor(job *models.SearchJob) (*models.SearchResponse, error) {
	switch job.Status {
	case models.JobStatusDoneSuccess, models.JobStatusDoneClarify:
		if job.Result == nil {
			return nil, fmt.Errorf("terminal job %s has no result payload", job.RequestID)
		}
		return job.Result, nil
	case models.JobStatusDoneStopped:
		return pipeline.BuildStoppedResponse(job), nil
	case models.JobStatusDoneFailed:
		if job.Error != nil {
			return nil, fmt.Errorf("search failed: %s: %s", job.Error.Code, job.Error.Message)
		}
		return nil, fmt.Errorf("search failed for %s", job.RequestID)
	}
	return nil, fmt.Errorf("job %s is not terminal", job.RequestID)
}

// GetJob fetches a job by request id, nil if not found
func (s *Service) GetJob(ctx context.Context, requestID string) (*models.SearchJob, error) {
	return s.storage.GetJob(ctx, requestID)
}

// CancelJob stops a pending or running job. Ownership is checked before
// the registry is touched; foreign callers learn nothing beyond "not
// found". Cancelling an already terminal job is a no-op success.
func (s *Service) CancelJob(ctx context.Context, sessionID, requestID string) error {
	job, err := s.storage.GetJob(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if err := s.authorizer.AuthorizeJobRead(sessionID, job); err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	if s.registry.Cancel(requestID) {
		s.logger.Info().
			Str("request_id", requestID).
			Str("session_hash", s.authorizer.HashSession(sessionID)).
			Msg("Cancel signal delivered to live run")
		return nil
	}

	// No live runner in this process (restart lost it, or it never
	// started). Finalize the record directly so the poller unblocks.
	if err := job.MarkStopped(models.StopReasonCancelled, "Search cancelled by owner"); err != nil {
		return nil
	}
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}
	s.logger.Info().
		Str("request_id", requestID).
		Msg("Orphaned job cancelled directly")
	return nil
}

// ListSessionJobs returns the session's most recent jobs, newest first
func (s *Service) ListSessionJobs(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error) {
	if sessionID == "" {
		return nil, interfaces.ErrSessionMissing
	}
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}
	return s.storage.ListBySession(ctx, sessionID, limit)
}

// ActiveRuns reports the number of in-process pipeline runs
func (s *Service) ActiveRuns() int {
	return s.registry.Len()
}
