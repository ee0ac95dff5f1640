package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/gusto/internal/models"
)

// ErrJobExists is returned by CreateJob when the request id is already taken
var ErrJobExists = errors.New("job already exists")

// SearchJobStorage - interface for search job persistence.
// One record per job keyed by request id, with a secondary index on the
// idempotency key. The pipeline runner is the sole writer for a job after
// creation; controllers and stream orchestrators only read.
type SearchJobStorage interface {
	// CreateJob persists a new job. Fails if the request id is taken.
	CreateJob(ctx context.Context, job *models.SearchJob) error

	// SaveJob upserts the full job record, refreshing updated_at
	SaveJob(ctx context.Context, job *models.SearchJob) error

	// GetJob retrieves a job by request id, nil if not found
	GetJob(ctx context.Context, requestID string) (*models.SearchJob, error)

	// FindByIdempotencyKey returns the newest job for the key, nil if none.
	// Read-only: never modifies the candidate.
	FindByIdempotencyKey(ctx context.Context, key string) (*models.SearchJob, error)

	// UpdateHeartbeat refreshes updated_at for a running job. Missing or
	// terminal jobs are a no-op.
	UpdateHeartbeat(ctx context.Context, requestID string) error

	// ListBySession returns the most recent jobs owned by a session
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error)

	// ListStaleRunning returns RUNNING jobs whose updated_at is older than
	// the threshold, for the maintenance sweep.
	ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]*models.SearchJob, error)

	// DeleteJob removes a job record
	DeleteJob(ctx context.Context, requestID string) error

	// DeleteTerminalBefore purges terminal jobs completed before the cutoff.
	// Returns the number of jobs removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CountByStatus returns job counts keyed by status, for health reporting
	CountByStatus(ctx context.Context) (map[models.SearchJobStatus]int, error)
}

// CacheStorage - interface for the TTL result cache (L2). Values are opaque
// bytes keyed by the gateway fingerprint.
type CacheStorage interface {
	// Get returns the value and true when present and unexpired
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes an entry (explicit eviction)
	Delete(ctx context.Context, key string) error

	// PurgeExpired removes expired entries, returning the count removed
	PurgeExpired(ctx context.Context) (int, error)

	// Count returns the number of live entries
	Count(ctx context.Context) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() SearchJobStorage
	KeyValueStorage() KeyValueStorage
	CacheStorage() CacheStorage
	DB() interface{}
	Close() error
}
