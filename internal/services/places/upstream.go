package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

const (
	// maxSearchPages bounds pagination regardless of the result cap
	maxSearchPages = 3

	// pageSizeLimit is the provider's per-page maximum
	pageSizeLimit = 20

	defaultMaxResults = 20
)

// retryDelays gives three attempts total. Only 429 and 5xx responses are
// retried; network failures and other 4xx are terminal on first sight.
var retryDelays = []time.Duration{0, 500 * time.Millisecond, time.Second}

// fetchUpstream performs the full provider interaction for one resolved
// mapping: paginated text search, the low-result bias retry, and the
// permanently-closed filter. The returned outcome is what gets cached.
func (s *Service) fetchUpstream(ctx context.Context, mapping *models.RouteMapping) (*interfaces.PlacesSearchOutcome, error) {
	places, pages, err := s.fetchAllPages(ctx, mapping)
	if err != nil {
		return nil, err
	}

	// A biased search that comes back nearly empty usually means the bias
	// circle missed the venues. Retry once without it and adopt the
	// unbiased set only when it is strictly larger.
	if mapping.Bias != nil && len(places) <= 1 {
		unbiased := *mapping
		unbiased.Bias = nil
		retried, retriedPages, retryErr := s.fetchAllPages(ctx, &unbiased)
		if retryErr != nil {
			s.logger.Warn().Err(retryErr).Msg("Unbiased retry failed, keeping biased results")
		} else if len(retried) > len(places) {
			s.logger.Debug().
				Int("biased_results", len(places)).
				Int("unbiased_results", len(retried)).
				Msg("Adopted unbiased results after low-result retry")
			places = retried
			pages += retriedPages
		}
	}

	kept := make([]models.Place, 0, len(places))
	dropped := 0
	for _, place := range places {
		if place.IsPermanentlyClosed() {
			dropped++
			continue
		}
		kept = append(kept, place)
	}

	s.logger.Info().
		Str("text_query", mapping.TextQuery).
		Int("results", len(kept)).
		Int("pages", pages).
		Int("dropped_closed", dropped).
		Msg("Places text search completed")

	return &interfaces.PlacesSearchOutcome{
		Results:       kept,
		ServedFrom:    models.SourceUpstream,
		Pages:         pages,
		DroppedClosed: dropped,
	}, nil
}

// fetchAllPages follows nextPageToken until the result cap or page bound
func (s *Service) fetchAllPages(ctx context.Context, mapping *models.RouteMapping) ([]models.Place, int, error) {
	maxResults := mapping.MaxResults
	if maxResults <= 0 || (s.config.MaxResults > 0 && maxResults > s.config.MaxResults) {
		maxResults = s.config.MaxResults
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var places []models.Place
	pageToken := ""
	pages := 0

	for {
		page, err := s.searchPage(ctx, mapping, pageToken, maxResults-len(places))
		if err != nil {
			return nil, pages, err
		}
		pages++

		for i := range page.Places {
			places = append(places, page.Places[i].toPlace())
		}

		if page.NextPageToken == "" || len(places) >= maxResults || pages >= maxSearchPages {
			break
		}
		pageToken = page.NextPageToken
	}

	if len(places) > maxResults {
		places = places[:maxResults]
	}
	return places, pages, nil
}

// searchPage issues one searchText call
func (s *Service) searchPage(ctx context.Context, mapping *models.RouteMapping, pageToken string, pageSize int) (*searchResponse, error) {
	if pageSize > pageSizeLimit {
		pageSize = pageSizeLimit
	}
	if pageSize < 1 {
		pageSize = 1
	}

	body := searchRequest{
		TextQuery:      mapping.TextQuery,
		LanguageCode:   mapping.LanguageCode,
		RegionCode:     mapping.RegionCode,
		MaxResultCount: pageSize,
		PageToken:      pageToken,
	}
	if mapping.RankByDistance {
		body.RankPreference = "DISTANCE"
	}
	if mapping.Bias != nil {
		body.LocationBias = &locationBias{
			Circle: &circle{
				Center: latLng{
					Latitude:  mapping.Bias.Latitude,
					Longitude: mapping.Bias.Longitude,
				},
				Radius: float64(mapping.Bias.RadiusMeters),
			},
		}
	}

	fieldMask := mapping.FieldMask
	if fieldMask == "" {
		fieldMask = DefaultFieldMask
	}

	endpoint := strings.TrimSuffix(s.config.SearchBaseURL, "/") + "/places:searchText"

	// API key travels in a header, never in the logged URL
	s.logger.Debug().
		Str("url", endpoint).
		Str("text_query", mapping.TextQuery).
		Int("page_size", pageSize).
		Bool("paged", pageToken != "").
		Msg("Calling Places text search API")

	var response searchResponse
	if err := s.postWithRetry(ctx, endpoint, fieldMask, &body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// postWithRetry runs the bounded retry schedule around postOnce
func (s *Service) postWithRetry(ctx context.Context, endpoint, fieldMask string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode search request: %w", err)
	}

	var lastErr error
	for attempt, delay := range retryDelays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &interfaces.ProviderError{Kind: interfaces.ProviderErrorTimeout, Err: ctx.Err()}
			}
		}

		lastErr = s.postOnce(ctx, endpoint, fieldMask, payload, out)
		if lastErr == nil {
			return nil
		}
		if !retryableError(lastErr) {
			return lastErr
		}

		s.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Msg("Retrying provider call")
	}
	return lastErr
}

func (s *Service) postOnce(ctx context.Context, endpoint, fieldMask string, payload []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", s.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if isTimeoutError(err) {
			return &interfaces.ProviderError{Kind: interfaces.ProviderErrorTimeout, Err: err}
		}
		return &interfaces.ProviderError{Kind: interfaces.ProviderErrorNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &interfaces.ProviderError{
			Kind:       interfaces.ProviderErrorHTTP,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// retryableError reports whether the schedule should try again: only
// rate-limit and server-side statuses qualify
func retryableError(err error) bool {
	var provErr *interfaces.ProviderError
	if !errors.As(err, &provErr) {
		return false
	}
	if provErr.Kind != interfaces.ProviderErrorHTTP {
		return false
	}
	return provErr.StatusCode == http.StatusTooManyRequests || provErr.StatusCode >= 500
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
