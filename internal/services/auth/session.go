package auth

import (
	"net/http"
	"strings"
)

// SessionHeader carries the caller's opaque session identity
const SessionHeader = "X-Session-Id"

// SessionFromRequest extracts the session id from the request header.
// Returns "" when absent; callers decide whether that is a 401 (async
// submission, job reads) or an accepted anonymous call (sync search).
func SessionFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}
