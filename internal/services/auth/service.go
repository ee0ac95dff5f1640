package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// Service enforces session-bound job access. Jobs are private to the
// session that created them: an owner mismatch is reported as not-found
// so probing request ids reveals nothing about other sessions' jobs.
type Service struct {
	logger arbor.ILogger
}

// NewService creates a new session authorizer
func NewService(logger arbor.ILogger) interfaces.SessionAuthorizer {
	return &Service{logger: logger}
}

// AuthorizeJobRead returns nil when the session may read the job.
// Absent jobs, legacy jobs without an owner, and owner mismatches all
// collapse into ErrJobNotFound.
func (s *Service) AuthorizeJobRead(sessionID string, job *models.SearchJob) error {
	if sessionID == "" {
		return interfaces.ErrSessionMissing
	}
	if job == nil {
		return interfaces.ErrJobNotFound
	}
	// Jobs persisted without an owner predate session binding; treat them
	// as unreadable rather than world-readable.
	if job.OwnerSessionID == "" {
		s.logger.Warn().
			Str("request_id", job.RequestID).
			Msg("Denying access to job without owner session")
		return interfaces.ErrJobNotFound
	}
	if job.OwnerSessionID != sessionID {
		s.logger.Warn().
			Str("request_id", job.RequestID).
			Str("owner_hash", s.HashSession(job.OwnerSessionID)).
			Str("caller_hash", s.HashSession(sessionID)).
			Msg("Session attempted to read another session's job")
		return interfaces.ErrJobNotFound
	}
	return nil
}

// HashSession returns the truncated SHA-256 form used wherever a session
// identity appears in logs. Raw session ids are never logged.
func (s *Service) HashSession(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:12]
}
