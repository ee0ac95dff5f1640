package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the SearchJobStorage interface for Badger.
// Jobs are stored as full SearchJob records keyed by request id, with
// secondary indexes on IdempotencyKey (dedup lookup) and Status (sweeps).
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SearchJobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob persists a new job record. Insert (not Upsert) so a request id
// collision surfaces as ErrJobExists instead of silently replacing the record.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.SearchJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	// IMPORTANT: Dereference pointer to ensure consistent type with Find
	// operations. BadgerHold uses the type name for key prefixes; storing
	// *SearchJob vs SearchJob creates different prefixes.
	if err := s.db.Store().Insert(job.RequestID, *job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("request id %s: %w", job.RequestID, interfaces.ErrJobExists)
		}
		s.logger.Error().Err(err).Str("request_id", job.RequestID).Msg("BadgerDB: Failed to insert job")
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Trace().
		Str("request_id", job.RequestID).
		Str("status", string(job.Status)).
		Msg("BadgerDB: Job created")
	return nil
}

// SaveJob upserts the full job record, refreshing updated_at. Status is
// monotone: once a stored record is terminal, a save carrying a different
// status is refused even if the in-memory copy was mutated another way.
func (s *JobStorage) SaveJob(ctx context.Context, job *models.SearchJob) error {
	if job.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}

	var existing models.SearchJob
	err := s.db.Store().Get(job.RequestID, &existing)
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to check existing job: %w", err)
	}
	if err == nil && existing.IsTerminal() && existing.Status != job.Status {
		return fmt.Errorf("job %s is %s: %w", job.RequestID, existing.Status, models.ErrTerminalTransition)
	}

	job.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(job.RequestID, *job); err != nil {
		s.logger.Error().Err(err).Str("request_id", job.RequestID).Msg("BadgerDB: Failed to upsert job")
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Trace().
		Str("request_id", job.RequestID).
		Str("status", string(job.Status)).
		Int("progress", job.Progress).
		Msg("BadgerDB: Job saved")
	return nil
}

// GetJob retrieves a job by request id. Returns nil (not an error) when the
// record does not exist so callers can map absence to their own semantics.
func (s *JobStorage) GetJob(ctx context.Context, requestID string) (*models.SearchJob, error) {
	var job models.SearchJob
	if err := s.db.Store().Get(requestID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// FindByIdempotencyKey returns the newest job carrying the key, nil if none.
// BadgerHold returns index matches in key order (request ids are random
// UUIDs), so recency is resolved in memory on CreatedAt.
func (s *JobStorage) FindByIdempotencyKey(ctx context.Context, key string) (*models.SearchJob, error) {
	if key == "" {
		return nil, nil
	}

	var jobs []models.SearchJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("IdempotencyKey").Eq(key).Index("IdempotencyKey")); err != nil {
		return nil, fmt.Errorf("failed to find jobs by idempotency key: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	newest := jobs[0]
	for _, j := range jobs[1:] {
		if j.CreatedAt.After(newest.CreatedAt) {
			newest = j
		}
	}
	return &newest, nil
}

// UpdateHeartbeat refreshes updated_at for a running job. Missing records and
// terminal jobs are a no-op so a late ticker fire after completion cannot
// resurrect the heartbeat.
func (s *JobStorage) UpdateHeartbeat(ctx context.Context, requestID string) error {
	var job models.SearchJob
	err := s.db.Store().Get(requestID, &job)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get job for heartbeat: %w", err)
	}
	if job.IsTerminal() {
		return nil
	}

	job.Touch()
	if err := s.db.Store().Upsert(requestID, job); err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// ListBySession returns the most recent jobs owned by a session, newest first
func (s *JobStorage) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error) {
	if sessionID == "" {
		return []*models.SearchJob{}, nil
	}

	var jobs []models.SearchJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("OwnerSessionID").Eq(sessionID)); err != nil {
		return nil, fmt.Errorf("failed to list session jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}

	result := make([]*models.SearchJob, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
	}
	return result, nil
}

// ListStaleRunning returns RUNNING jobs whose updated_at is older than the
// threshold. The recency filter runs in memory: BadgerHold time comparisons
// inside queries have caused reflection panics, and the RUNNING set is small
// enough to scan.
func (s *JobStorage) ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]*models.SearchJob, error) {
	threshold := time.Now().Add(-olderThan)

	var running []models.SearchJob
	if err := s.db.Store().Find(&running, badgerhold.Where("Status").Eq(models.JobStatusRunning).Index("Status")); err != nil {
		return nil, fmt.Errorf("failed to find running jobs: %w", err)
	}

	var result []*models.SearchJob
	for i := range running {
		if running[i].UpdatedAt.Before(threshold) {
			result = append(result, &running[i])
		}
	}
	return result, nil
}

// DeleteJob removes a job record
func (s *JobStorage) DeleteJob(ctx context.Context, requestID string) error {
	if err := s.db.Store().Delete(requestID, &models.SearchJob{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// DeleteTerminalBefore purges terminal jobs completed before the cutoff.
// Jobs missing CompletedAt fall back to UpdatedAt.
func (s *JobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.SearchJob
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return 0, fmt.Errorf("failed to list jobs for purge: %w", err)
	}

	deleted := 0
	for i := range jobs {
		if !jobs[i].IsTerminal() {
			continue
		}
		completedAt := jobs[i].UpdatedAt
		if jobs[i].CompletedAt != nil {
			completedAt = *jobs[i].CompletedAt
		}
		if !completedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(jobs[i].RequestID, &models.SearchJob{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			s.logger.Warn().Err(err).Str("request_id", jobs[i].RequestID).Msg("Failed to purge terminal job")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Debug().Int("deleted_count", deleted).Msg("BadgerDB: Purged terminal jobs")
	}
	return deleted, nil
}

// CountByStatus returns job counts keyed by status, for health reporting
func (s *JobStorage) CountByStatus(ctx context.Context) (map[models.SearchJobStatus]int, error) {
	counts := make(map[models.SearchJobStatus]int)
	statuses := []models.SearchJobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusDoneSuccess,
		models.JobStatusDoneClarify,
		models.JobStatusDoneStopped,
		models.JobStatusDoneFailed,
	}
	for _, status := range statuses {
		n, err := s.db.Store().Count(&models.SearchJob{}, badgerhold.Where("Status").Eq(status).Index("Status"))
		if err != nil {
			return nil, fmt.Errorf("failed to count jobs with status %s: %w", status, err)
		}
		if n > 0 {
			counts[status] = int(n)
		}
	}
	return counts, nil
}
