package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/gusto/internal/models"
)

const (
	geocodeCachePrefix      = "geocode:"
	defaultBiasRadiusMeters = 20000
	defaultGeocodeTTL       = 24 * time.Hour
)

// resolveBias returns a mapping copy with any city hint resolved into a
// bias circle. Resolution happens before fingerprinting so the resolved
// circle participates in the cache identity. Geocoding failures are
// non-fatal: the search proceeds unbiased.
func (s *Service) resolveBias(ctx context.Context, mapping *models.RouteMapping) *models.RouteMapping {
	resolved := *mapping
	if resolved.Bias != nil || strings.TrimSpace(resolved.CityHint) == "" {
		return &resolved
	}

	bias, err := s.geocodeCity(ctx, resolved.CityHint, resolved.RegionCode)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("city", resolved.CityHint).
			Msg("City geocoding failed, searching without bias")
		return &resolved
	}

	resolved.Bias = bias
	return &resolved
}

// geocodeCity resolves a city name to a bias circle, cached by
// lowercased city and region
func (s *Service) geocodeCity(ctx context.Context, city, region string) (*models.BiasCircle, error) {
	cacheKey := geocodeCachePrefix + strings.ToLower(strings.TrimSpace(city)) + ":" + strings.ToUpper(region)

	if data, found, err := s.l2.Get(ctx, cacheKey); err == nil && found {
		var bias models.BiasCircle
		if err := json.Unmarshal(data, &bias); err == nil {
			return &bias, nil
		}
	}

	endpoint := strings.TrimSuffix(s.config.GeocodeBaseURL, "/") + "/json"
	params := url.Values{}
	params.Set("address", city)
	if region != "" {
		params.Set("region", strings.ToLower(region))
	}
	params.Set("key", s.apiKey)

	// Redact API key in logs
	logURL := fmt.Sprintf("%s?address=%s&key=***REDACTED***", endpoint, url.QueryEscape(city))
	s.logger.Debug().Str("url", logURL).Msg("Calling geocoding API")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call geocoding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned status %d", resp.StatusCode)
	}

	var geo geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if geo.Status != "OK" || len(geo.Results) == 0 {
		return nil, fmt.Errorf("geocoding returned status %s", geo.Status)
	}

	radius := s.config.BiasRadiusMeters
	if radius <= 0 {
		radius = defaultBiasRadiusMeters
	}
	location := geo.Results[0].Geometry.Location
	bias := &models.BiasCircle{
		Latitude:     location.Lat,
		Longitude:    location.Lng,
		RadiusMeters: radius,
	}

	ttl := s.config.GeocodeTTL
	if ttl <= 0 {
		ttl = defaultGeocodeTTL
	}
	if data, err := json.Marshal(bias); err == nil {
		if err := s.l2.Set(ctx, cacheKey, data, ttl); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cache geocode result")
		}
	}

	s.logger.Debug().
		Str("city", city).
		Float64("latitude", bias.Latitude).
		Float64("longitude", bias.Longitude).
		Int("radius_meters", bias.RadiusMeters).
		Msg("Geocoded city to bias circle")

	return bias, nil
}
