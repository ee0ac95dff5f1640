package common

import (
	"github.com/google/uuid"
)

// NewRequestID generates a unique search job ID with the "req_" prefix
// Format: req_<uuid>
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// NewTraceID generates a trace ID attached to failure responses so a
// client report can be matched against server logs.
// Format: trace_<uuid>
func NewTraceID() string {
	return "trace_" + uuid.New().String()
}
