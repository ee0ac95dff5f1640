package interfaces

import (
	"context"

	"github.com/ternarybob/gusto/internal/models"
)

// SubmitOutcome is the result of an async submission: either a freshly
// created job or a reused one, with the dedup reason for observability.
type SubmitOutcome struct {
	Job    *models.SearchJob `json:"job"`
	Reused bool              `json:"reused"`
	Reason string            `json:"reason"`
}

// SearchService is the controller-facing search API. Submit decides
// REUSE/NEW_JOB via the deduplication decider and spawns a pipeline
// runner for new jobs; SearchSync runs the pipeline inline.
type SearchService interface {
	// Submit registers an async search, returning the (possibly reused) job
	Submit(ctx context.Context, sessionID string, req *models.SearchRequest) (*SubmitOutcome, error)

	// SearchSync runs the pipeline inline and returns the final response
	SearchSync(ctx context.Context, sessionID string, req *models.SearchRequest) (*models.SearchResponse, error)

	// GetJob fetches a job by request id, nil if not found
	GetJob(ctx context.Context, requestID string) (*models.SearchJob, error)

	// CancelJob stops a pending or running job owned by the session
	CancelJob(ctx context.Context, sessionID, requestID string) error

	// ListSessionJobs returns the session's most recent jobs
	ListSessionJobs(ctx context.Context, sessionID string, limit int) ([]*models.SearchJob, error)

	// ActiveRuns reports how many pipeline runners are live, for health
	ActiveRuns() int
}
