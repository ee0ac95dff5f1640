package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestJob() *SearchJob {
	return NewSearchJob("req-1", "session-1", "key-1", &SearchRequest{Query: "ramen"}, "p1")
}

func TestSearchJob_LifecycleHappyPath(t *testing.T) {
	job := newTestJob()

	if job.Status != JobStatusPending {
		t.Fatalf("Expected new job to be PENDING, got %s", job.Status)
	}
	if job.IsTerminal() {
		t.Error("New job must not be terminal")
	}

	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if job.Status != JobStatusRunning {
		t.Errorf("Expected RUNNING, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("MarkRunning must record StartedAt")
	}

	result := &SearchResponse{RequestID: "req-1"}
	if err := job.MarkSuccess(result); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}
	if job.Status != JobStatusDoneSuccess {
		t.Errorf("Expected DONE_SUCCESS, got %s", job.Status)
	}
	if job.Result != result {
		t.Error("MarkSuccess must attach the result payload")
	}
	if job.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("MarkSuccess must record CompletedAt")
	}
	if !job.IsTerminal() {
		t.Error("DONE_SUCCESS must be terminal")
	}
}

func TestSearchJob_TerminalStatesRejectTransitions(t *testing.T) {
	tests := []struct {
		name     string
		terminal func(j *SearchJob) error
		status   SearchJobStatus
	}{
		{
			name:     "after success",
			terminal: func(j *SearchJob) error { return j.MarkSuccess(&SearchResponse{}) },
			status:   JobStatusDoneSuccess,
		},
		{
			name:     "after clarify",
			terminal: func(j *SearchJob) error { return j.MarkClarify(&SearchResponse{}) },
			status:   JobStatusDoneClarify,
		},
		{
			name:     "after stopped",
			terminal: func(j *SearchJob) error { return j.MarkStopped(StopReasonLowConfidence, "not food") },
			status:   JobStatusDoneStopped,
		},
		{
			name:     "after failed",
			terminal: func(j *SearchJob) error { return j.MarkFailed(FailureCodeTimeout, "search timed out", "trace-1") },
			status:   JobStatusDoneFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob()
			if err := job.MarkRunning(); err != nil {
				t.Fatalf("MarkRunning failed: %v", err)
			}
			if err := tt.terminal(job); err != nil {
				t.Fatalf("Terminal transition failed: %v", err)
			}

			mutations := map[string]error{
				"MarkRunning": job.MarkRunning(),
				"MarkSuccess": job.MarkSuccess(&SearchResponse{}),
				"MarkClarify": job.MarkClarify(&SearchResponse{}),
				"MarkStopped": job.MarkStopped(StopReasonCancelled, "cancelled"),
				"MarkFailed":  job.MarkFailed(FailureCodeInternal, "boom", "trace-2"),
			}
			for name, err := range mutations {
				if !errors.Is(err, ErrTerminalTransition) {
					t.Errorf("%s on terminal job: expected ErrTerminalTransition, got %v", name, err)
				}
			}
			if job.Status != tt.status {
				t.Errorf("Terminal status changed to %s", job.Status)
			}
		})
	}
}

func TestSearchJob_MarkRunningRequiresPending(t *testing.T) {
	job := newTestJob()
	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}

	err := job.MarkRunning()
	if err == nil {
		t.Fatal("Expected error starting a RUNNING job")
	}
	if errors.Is(err, ErrTerminalTransition) {
		t.Error("RUNNING is not terminal; expected a plain status error")
	}
	if !strings.Contains(err.Error(), "RUNNING") {
		t.Errorf("Expected the current status in the error, got %q", err.Error())
	}
}

func TestSearchJob_MarkFailedRecordsStableError(t *testing.T) {
	job := newTestJob()
	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := job.MarkFailed(FailureCodeSearchFailed, "provider unavailable", "trace-9"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if job.Error == nil {
		t.Fatal("MarkFailed must attach a JobError")
	}
	if job.Error.Code != FailureCodeSearchFailed || job.Error.Message != "provider unavailable" {
		t.Errorf("Unexpected error payload: %+v", job.Error)
	}
	if job.TraceID != "trace-9" {
		t.Errorf("Expected trace id trace-9, got %s", job.TraceID)
	}
	if job.Result != nil {
		t.Error("Failed jobs must not carry a result payload")
	}
}

func TestSearchJob_MarkStoppedClearsPayloads(t *testing.T) {
	job := newTestJob()
	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := job.MarkStopped(StopReasonCancelled, "Search cancelled."); err != nil {
		t.Fatalf("MarkStopped failed: %v", err)
	}

	if job.StopReason != StopReasonCancelled {
		t.Errorf("Expected stop reason %s, got %s", StopReasonCancelled, job.StopReason)
	}
	if job.StopMessage != "Search cancelled." {
		t.Errorf("Unexpected stop message %q", job.StopMessage)
	}
	if job.Result != nil || job.Error != nil {
		t.Error("Stopped jobs carry neither result nor error")
	}
}

func TestSearchJob_ProgressAndTouchIgnoreTerminalJobs(t *testing.T) {
	job := newTestJob()
	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}

	job.SetProgress(42, "ranking")
	if job.Progress != 42 || job.Stage != "ranking" {
		t.Errorf("Expected progress 42 at ranking, got %d at %s", job.Progress, job.Stage)
	}

	// Out-of-range milestones clamp instead of failing
	job.SetProgress(150, "ranking")
	if job.Progress != 100 {
		t.Errorf("Expected progress clamped to 100, got %d", job.Progress)
	}
	job.SetProgress(-5, "ranking")
	if job.Progress != 0 {
		t.Errorf("Expected progress clamped to 0, got %d", job.Progress)
	}

	if err := job.MarkSuccess(&SearchResponse{}); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}
	beacon := job.UpdatedAt

	job.SetProgress(10, "classification")
	if job.Progress != 100 || job.Stage == "classification" {
		t.Error("SetProgress must be a no-op on terminal jobs")
	}

	time.Sleep(5 * time.Millisecond)
	job.Touch()
	if !job.UpdatedAt.Equal(beacon) {
		t.Error("Touch must be a no-op on terminal jobs")
	}
}

func TestSearchJob_HeartbeatTouch(t *testing.T) {
	job := newTestJob()
	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}

	before := job.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	job.Touch()
	if !job.UpdatedAt.After(before) {
		t.Error("Touch must advance the heartbeat beacon for live jobs")
	}
}

func TestSearchJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(j *SearchJob)
		wantErr string
	}{
		{
			name:    "valid job",
			mutate:  func(j *SearchJob) {},
			wantErr: "",
		},
		{
			name:    "missing request id",
			mutate:  func(j *SearchJob) { j.RequestID = "" },
			wantErr: "request ID is required",
		},
		{
			name:    "missing query",
			mutate:  func(j *SearchJob) { j.Query = "" },
			wantErr: "query is required",
		},
		{
			name:    "missing status",
			mutate:  func(j *SearchJob) { j.Status = "" },
			wantErr: "status is required",
		},
		{
			name: "result and error together",
			mutate: func(j *SearchJob) {
				j.Result = &SearchResponse{}
				j.Error = &JobError{Code: FailureCodeInternal, Message: "boom"}
			},
			wantErr: "result and error are mutually exclusive",
		},
		{
			name:    "updated before created",
			mutate:  func(j *SearchJob) { j.UpdatedAt = j.CreatedAt.Add(-time.Second) },
			wantErr: "updated_at precedes created_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob()
			tt.mutate(job)

			err := job.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid job, got %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Expected error %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSearchJob_JSONRoundTrip(t *testing.T) {
	job := newTestJob()
	if err := job.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := job.MarkFailed(FailureCodeTimeout, "search timed out", "trace-3"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	data, err := job.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	restored, err := SearchJobFromJSON(data)
	if err != nil {
		t.Fatalf("SearchJobFromJSON failed: %v", err)
	}
	if restored.RequestID != job.RequestID || restored.Status != job.Status {
		t.Errorf("Round trip lost identity: %+v", restored)
	}
	if restored.Error == nil || restored.Error.Code != FailureCodeTimeout {
		t.Errorf("Round trip lost the error payload: %+v", restored.Error)
	}
	if restored.OwnerSessionID != "session-1" {
		t.Errorf("Round trip lost the owner session: %s", restored.OwnerSessionID)
	}
}
