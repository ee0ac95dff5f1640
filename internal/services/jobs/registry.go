package jobs

import (
	"context"
	"sync"
)

// RunnerRegistry tracks the cancel function of every in-process pipeline
// run so owner-requested cancellation can reach the live context. Entries
// are removed when the run returns; a missing entry means the job already
// finished (cancel of an abandoned job falls to the maintenance sweep).
type RunnerRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRunnerRegistry creates an empty registry
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{
		cancels: make(map[string]context.CancelFunc),
	}
}

// Register stores the cancel function for a request id
func (r *RunnerRegistry) Register(requestID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[requestID] = cancel
}

// Unregister removes a request id, typically when its run returns
func (r *RunnerRegistry) Unregister(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, requestID)
}

// Cancel fires the cancel function for a request id, reporting whether a
// live run was found. The entry stays registered so the run's own cleanup
// removes it.
func (r *RunnerRegistry) Cancel(requestID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[requestID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// Len returns the number of live runs, for health reporting
func (r *RunnerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
