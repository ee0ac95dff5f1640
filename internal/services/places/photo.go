package places

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/gusto/internal/interfaces"
)

// maxPhotoBytes caps a proxied photo body
const maxPhotoBytes = 10 << 20

// FetchPhoto streams one photo through the provider media endpoint. The
// API credential is injected server-side; the reference and width are the
// only caller-supplied inputs.
func (s *Service) FetchPhoto(ctx context.Context, photoRef string, maxWidthPx int) (*interfaces.PhotoContent, error) {
	if s.apiKey == "" {
		return nil, &interfaces.ProviderError{
			Kind: interfaces.ProviderErrorCredential,
			Err:  fmt.Errorf("places api key is not configured"),
		}
	}

	endpoint := fmt.Sprintf("%s/%s/media?maxWidthPx=%d",
		strings.TrimSuffix(s.config.PhotoBaseURL, "/"), photoRef, maxWidthPx)

	s.logger.Debug().
		Str("photo_ref", photoRef).
		Int("max_width_px", maxWidthPx).
		Msg("Fetching place photo")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build photo request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if isTimeoutError(err) {
			return nil, &interfaces.ProviderError{Kind: interfaces.ProviderErrorTimeout, Err: err}
		}
		return nil, &interfaces.ProviderError{Kind: interfaces.ProviderErrorNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &interfaces.ProviderError{
			Kind:       interfaces.ProviderErrorNotFound,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("photo %s not found", photoRef),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &interfaces.ProviderError{
			Kind:       interfaces.ProviderErrorHTTP,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("photo fetch returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, &interfaces.ProviderError{
			Kind: interfaces.ProviderErrorNetwork,
			Err:  fmt.Errorf("failed to read photo body: %w", err),
		}
	}

	return &interfaces.PhotoContent{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
