package interfaces

import (
	"errors"

	"github.com/ternarybob/gusto/internal/models"
)

// Authorization outcomes. A mismatched owner deliberately maps to
// ErrJobNotFound so callers cannot distinguish "exists but not yours"
// from "does not exist".
var (
	ErrSessionMissing = errors.New("session identity missing")
	ErrJobNotFound    = errors.New("job not found")
)

// SessionAuthorizer enforces ownership on job reads and produces the
// hashed identities used in logs. Raw session ids never appear in logs.
type SessionAuthorizer interface {
	// AuthorizeJobRead returns nil when the session may read the job.
	// Errors: ErrSessionMissing (no identity), ErrJobNotFound (absent job,
	// legacy job without an owner, or owner mismatch).
	AuthorizeJobRead(sessionID string, job *models.SearchJob) error

	// HashSession returns the truncated SHA-256 log form of a session id
	HashSession(sessionID string) string
}
