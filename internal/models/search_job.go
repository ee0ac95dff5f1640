// -----------------------------------------------------------------------
// Search Job - Unit of work for the async search pipeline
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SearchJobStatus represents the state of a search job
type SearchJobStatus string

const (
	JobStatusPending     SearchJobStatus = "PENDING"
	JobStatusRunning     SearchJobStatus = "RUNNING"
	JobStatusDoneSuccess SearchJobStatus = "DONE_SUCCESS"
	JobStatusDoneClarify SearchJobStatus = "DONE_CLARIFY"
	JobStatusDoneStopped SearchJobStatus = "DONE_STOPPED"
	JobStatusDoneFailed  SearchJobStatus = "DONE_FAILED"
)

// Failure codes attached to DONE_FAILED jobs
const (
	FailureCodeTimeout      = "TIMEOUT"
	FailureCodeSearchFailed = "SEARCH_FAILED"
	FailureCodeInternal     = "INTERNAL"
	FailureCodeStale        = "STALE"
)

// Stop reasons attached to DONE_STOPPED jobs
const (
	StopReasonLowConfidence = "LOW_CONFIDENCE"
	StopReasonCancelled     = "CANCELLED"
)

// ErrTerminalTransition is returned when a status mutation is attempted
// on a job that has already reached a DONE_* state.
var ErrTerminalTransition = errors.New("job is in a terminal state")

// JobError carries the stable failure code and message for DONE_FAILED jobs.
// Raw errors never cross the API boundary; clients see code + message + trace id.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchJob is the persisted unit of work. It is created by the search
// controller, mutated only by its pipeline runner (and the runner's
// heartbeat ticker), and read by controllers, stream orchestrators, and
// the deduplication decider.
//
// Invariants:
//   - status is monotone: no transition out of any DONE_* state
//   - Result and Error are mutually exclusive
//   - OwnerSessionID is bound at creation and never mutated
//   - UpdatedAt >= CreatedAt; UpdatedAt is the heartbeat beacon
type SearchJob struct {
	// Core identification
	RequestID      string `json:"request_id" badgerhold:"key"`
	OwnerSessionID string `json:"owner_session_id"`

	// Dedup lookup key: hash of (normalized query, search language, region,
	// rounded coordinates, filter set, pipeline version)
	IdempotencyKey string `json:"idempotency_key" badgerhold:"index"`

	// Lifecycle state
	Status   SearchJobStatus `json:"status" badgerhold:"index"`
	Progress int             `json:"progress"` // 0-100 milestone
	Stage    string          `json:"stage,omitempty"`

	// Request snapshot (immutable after creation)
	Query    string         `json:"query"`
	Language string         `json:"language,omitempty"` // detected by classification
	Request  *SearchRequest `json:"request,omitempty"`

	// Versions captured at creation time
	PipelineVersion  string `json:"pipeline_version"`
	ContractsVersion string `json:"contracts_version"`

	// Terminal payloads (mutually exclusive)
	Result  *SearchResponse `json:"result,omitempty"` // populated for DONE_SUCCESS / DONE_CLARIFY
	Error   *JobError       `json:"error,omitempty"`  // populated for DONE_FAILED
	TraceID string          `json:"trace_id,omitempty"`

	// Stop bookkeeping for DONE_STOPPED. Stopped jobs store no result
	// payload; read-side responses are synthesized from these two fields.
	StopReason  string `json:"stop_reason,omitempty"`
	StopMessage string `json:"stop_message,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSearchJob creates a pending job bound to its owner session.
func NewSearchJob(requestID, ownerSessionID, idempotencyKey string, req *SearchRequest, pipelineVersion string) *SearchJob {
	now := time.Now()
	return &SearchJob{
		RequestID:        requestID,
		OwnerSessionID:   ownerSessionID,
		IdempotencyKey:   idempotencyKey,
		Status:           JobStatusPending,
		Progress:         0,
		Query:            req.Query,
		Request:          req,
		PipelineVersion:  pipelineVersion,
		ContractsVersion: ContractsVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsTerminal returns true if the job has reached a DONE_* state
func (j *SearchJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusDoneSuccess, JobStatusDoneClarify, JobStatusDoneStopped, JobStatusDoneFailed:
		return true
	}
	return false
}

// MarkRunning transitions PENDING -> RUNNING
func (j *SearchJob) MarkRunning() error {
	if j.IsTerminal() {
		return ErrTerminalTransition
	}
	if j.Status != JobStatusPending {
		return fmt.Errorf("cannot start job in status %s", j.Status)
	}
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkSuccess transitions to DONE_SUCCESS with the final response payload
func (j *SearchJob) MarkSuccess(result *SearchResponse) error {
	if j.IsTerminal() {
		return ErrTerminalTransition
	}
	now := time.Now()
	j.Status = JobStatusDoneSuccess
	j.Result = result
	j.Error = nil
	j.Progress = 100
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkClarify transitions to DONE_CLARIFY with the assistant payload
func (j *SearchJob) MarkClarify(result *SearchResponse) error {
	if j.IsTerminal() {
		return ErrTerminalTransition
	}
	now := time.Now()
	j.Status = JobStatusDoneClarify
	j.Result = result
	j.Error = nil
	j.Progress = 100
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkStopped transitions to DONE_STOPPED. Stopped jobs carry no result
// payload; the controller synthesizes the stop message on read from the
// recorded reason and message.
func (j *SearchJob) MarkStopped(reason, message string) error {
	if j.IsTerminal() {
		return ErrTerminalTransition
	}
	now := time.Now()
	j.Status = JobStatusDoneStopped
	j.Result = nil
	j.Error = nil
	j.StopReason = reason
	j.StopMessage = message
	j.Progress = 100
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkFailed transitions to DONE_FAILED with a stable code and message
func (j *SearchJob) MarkFailed(code, message, traceID string) error {
	if j.IsTerminal() {
		return ErrTerminalTransition
	}
	now := time.Now()
	j.Status = JobStatusDoneFailed
	j.Result = nil
	j.Error = &JobError{Code: code, Message: message}
	j.TraceID = traceID
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// SetProgress records a stage milestone. No-op for terminal jobs.
func (j *SearchJob) SetProgress(progress int, stage string) {
	if j.IsTerminal() {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// Touch refreshes the heartbeat beacon. No-op for terminal jobs.
func (j *SearchJob) Touch() {
	if j.IsTerminal() {
		return
	}
	j.UpdatedAt = time.Now()
}

// Validate checks structural invariants of the job record
func (j *SearchJob) Validate() error {
	if j.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if j.Query == "" {
		return fmt.Errorf("query is required")
	}
	if j.Status == "" {
		return fmt.Errorf("status is required")
	}
	if j.Result != nil && j.Error != nil {
		return fmt.Errorf("result and error are mutually exclusive")
	}
	if j.UpdatedAt.Before(j.CreatedAt) {
		return fmt.Errorf("updated_at precedes created_at")
	}
	return nil
}

// ToJSON serializes the job for storage or transport
func (j *SearchJob) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search job: %w", err)
	}
	return data, nil
}

// SearchJobFromJSON deserializes a job from JSON
func SearchJobFromJSON(data []byte) (*SearchJob, error) {
	var job SearchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search job: %w", err)
	}
	return &job, nil
}
