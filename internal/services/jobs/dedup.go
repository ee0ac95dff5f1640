package jobs

import (
	"time"

	"github.com/ternarybob/gusto/internal/models"
)

// Dedup decision reasons, logged verbatim for observability
const (
	ReasonNoCandidate           = "NO_CANDIDATE"
	ReasonCachedResultAvailable = "CACHED_RESULT_AVAILABLE"
	ReasonStatusClarify         = "STATUS_CLARIFY"
	ReasonStatusStopped         = "STATUS_STOPPED"
	ReasonStatusPending         = "STATUS_PENDING"
	ReasonPreviousJobFailed     = "PREVIOUS_JOB_FAILED"
	ReasonRunningFresh          = "RUNNING_FRESH"
	ReasonStaleNoHeartbeat      = "STALE_RUNNING_NO_HEARTBEAT"
	ReasonStaleTooOld           = "STALE_RUNNING_TOO_OLD"
)

// DedupWindows are the staleness thresholds for reusing in-flight work.
// Heartbeat bounds how quiet a RUNNING job may go before being presumed
// dead; MaxAge bounds total runtime even with a live heartbeat.
type DedupWindows struct {
	Heartbeat time.Duration
	MaxAge    time.Duration
}

// Decision is the outcome of the deduplication check. When Reuse is true
// the caller hands back the candidate job instead of creating a new one.
type Decision struct {
	Reuse  bool
	Reason string
	Job    *models.SearchJob
}

// Decide determines whether a submission may reuse the candidate job found
// under the same idempotency key. Pure function: no I/O, no clock access
// beyond the supplied now, and the candidate is never mutated. A stale
// candidate is left untouched for the maintenance sweep to fail.
//
// Boundary: a heartbeat exactly at the window edge is still fresh; one
// instant older is stale.
func Decide(candidate *models.SearchJob, now time.Time, w DedupWindows) Decision {
	if candidate == nil {
		return Decision{Reuse: false, Reason: ReasonNoCandidate}
	}

	switch candidate.Status {
	case models.JobStatusDoneSuccess:
		return Decision{Reuse: true, Reason: ReasonCachedResultAvailable, Job: candidate}
	case models.JobStatusDoneClarify:
		return Decision{Reuse: true, Reason: ReasonStatusClarify, Job: candidate}
	case models.JobStatusDoneStopped:
		return Decision{Reuse: true, Reason: ReasonStatusStopped, Job: candidate}
	case models.JobStatusDoneFailed:
		return Decision{Reuse: false, Reason: ReasonPreviousJobFailed, Job: candidate}
	case models.JobStatusPending:
		return Decision{Reuse: true, Reason: ReasonStatusPending, Job: candidate}
	case models.JobStatusRunning:
		// Total-age guard first: a job can heartbeat forever while hung
		if now.Sub(candidate.CreatedAt) > w.MaxAge {
			return Decision{Reuse: false, Reason: ReasonStaleTooOld, Job: candidate}
		}
		if now.Sub(candidate.UpdatedAt) <= w.Heartbeat {
			return Decision{Reuse: true, Reason: ReasonRunningFresh, Job: candidate}
		}
		return Decision{Reuse: false, Reason: ReasonStaleNoHeartbeat, Job: candidate}
	}

	// Unknown status: safest is a fresh job
	return Decision{Reuse: false, Reason: ReasonNoCandidate, Job: candidate}
}
