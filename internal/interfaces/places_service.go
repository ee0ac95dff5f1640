package interfaces

import (
	"context"
	"fmt"

	"github.com/ternarybob/gusto/internal/models"
)

// ProviderErrorKind tags a fully failed provider call so the runner can
// translate it to a terminal job status without parsing error strings.
type ProviderErrorKind string

const (
	ProviderErrorTimeout    ProviderErrorKind = "TIMEOUT"
	ProviderErrorHTTP       ProviderErrorKind = "HTTP_ERROR"
	ProviderErrorNetwork    ProviderErrorKind = "NETWORK_ERROR"
	ProviderErrorCredential ProviderErrorKind = "CREDENTIAL_MISSING"
	ProviderErrorNotFound   ProviderErrorKind = "NOT_FOUND"
)

// ProviderError wraps an upstream failure with its kind tag and the last
// HTTP status observed (zero when the failure was not an HTTP response).
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s (status %d)", e.Kind, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PlacesSearchOutcome is the gateway's search result with provenance
type PlacesSearchOutcome struct {
	Results    []models.Place `json:"results"`
	ServedFrom string         `json:"served_from"` // models.SourceCache or models.SourceUpstream
	Pages      int            `json:"pages"`
	// DroppedClosed counts permanently-closed entries filtered before caching
	DroppedClosed int `json:"dropped_closed"`
}

// PhotoContent is a proxied photo payload
type PhotoContent struct {
	ContentType string
	Body        []byte
}

// PlacesService is the provider gateway. TextSearch owns caching,
// single-flight coalescing, retries, pagination, and geocoding internally;
// callers see one blocking call with provenance attached.
type PlacesService interface {
	// TextSearch executes the mapped provider request
	TextSearch(ctx context.Context, mapping *models.RouteMapping) (*PlacesSearchOutcome, error)

	// FetchPhoto streams a photo by its canonical reference, injecting the
	// API credential server-side
	FetchPhoto(ctx context.Context, photoRef string, maxWidthPx int) (*PhotoContent, error)
}
