package models

// ContractsVersion identifies the response/event wire contract. Returned on
// submission, echoed in every event frame, and bumped only on breaking change.
const ContractsVersion = "v1"

// Assist payload types
const (
	AssistTypeSummary = "summary"
	AssistTypeClarify = "clarify"
	AssistTypeStopped = "stopped"
	AssistTypeError   = "error"
)

// Response meta sources
const (
	SourceCache    = "cache"
	SourceUpstream = "upstream"
)

// QueryEcho reflects the interpreted query back to the client
type QueryEcho struct {
	Original string `json:"original"`
	Parsed   string `json:"parsed,omitempty"`
	Language string `json:"language,omitempty"`
}

// AssistPayload is the assistant-facing message attached to a response.
// BlocksSearch marks clarifications that must be answered before any
// provider call can be made (e.g. a missing location anchor).
type AssistPayload struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	Question        string `json:"question,omitempty"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
	BlocksSearch    bool   `json:"blocksSearch,omitempty"`
}

// Chip is a quick-action suggestion rendered by the client
type Chip struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Kind  string `json:"kind,omitempty"`
}

// PlaceGroup clusters results, currently by street
type PlaceGroup struct {
	Title     string   `json:"title"`
	ResultIDs []string `json:"resultIds"`
}

// Pagination describes the returned window of results
type Pagination struct {
	PageSize int  `json:"pageSize"`
	Returned int  `json:"returned"`
	HasMore  bool `json:"hasMore"`
}

// ResponseMeta carries timing, provenance, and filter bookkeeping
type ResponseMeta struct {
	TookMs         int64       `json:"tookMs"`
	Mode           string      `json:"mode"`
	AppliedFilters []string    `json:"appliedFilters"`
	Confidence     float64     `json:"confidence,omitempty"`
	Source         string      `json:"source,omitempty"` // "cache" or "upstream"
	FailureReason  string      `json:"failureReason,omitempty"`
	Pagination     *Pagination `json:"pagination,omitempty"`
	StreetGrouping bool        `json:"streetGrouping,omitempty"`
}

// SearchResponse is the stable client-facing search result shape
type SearchResponse struct {
	RequestID string         `json:"requestId"`
	SessionID string         `json:"sessionId,omitempty"`
	Query     QueryEcho      `json:"query"`
	Results   []PlaceResult  `json:"results"`
	Groups    []PlaceGroup   `json:"groups,omitempty"`
	Chips     []Chip         `json:"chips"`
	Assist    *AssistPayload `json:"assist,omitempty"`
	Meta      ResponseMeta   `json:"meta"`
}

// IsClarifyOrStopped reports whether the response is an assistant-terminal
// payload that must not carry results.
func (r *SearchResponse) IsClarifyOrStopped() bool {
	if r.Assist == nil {
		return false
	}
	return r.Assist.Type == AssistTypeClarify || r.Assist.Type == AssistTypeStopped
}

// CheckResponseInvariants returns the list of contract violations in the
// response. Pure function: never mutates its input.
//
// Enforced rules:
//   - clarify/stopped responses carry no results, no groups, no pagination
//   - a clarify/stopped response must have a non-empty assist message
func CheckResponseInvariants(r *SearchResponse) []string {
	violations := []string{}
	if r == nil {
		return violations
	}

	if r.IsClarifyOrStopped() {
		if len(r.Results) > 0 {
			violations = append(violations, "assist-terminal response has results")
		}
		if len(r.Groups) > 0 {
			violations = append(violations, "assist-terminal response has groups")
		}
		if r.Meta.Pagination != nil {
			violations = append(violations, "assist-terminal response has pagination")
		}
		if r.Assist.Message == "" {
			violations = append(violations, "assist-terminal response has empty message")
		}
	}

	return violations
}

// SanitizeResponse empties the fields that violate the response contract
// and returns the violations it repaired. Callers log each violation as a
// bug; clients always receive a conforming payload.
func SanitizeResponse(r *SearchResponse) []string {
	violations := CheckResponseInvariants(r)
	if len(violations) == 0 {
		return violations
	}

	if r.IsClarifyOrStopped() {
		r.Results = []PlaceResult{}
		r.Groups = nil
		r.Meta.Pagination = nil
	}

	return violations
}
