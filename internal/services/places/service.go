package places

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// Service implements the PlacesService gateway. It owns the full provider
// interaction: fingerprinted two-tier caching, single-flight coalescing,
// bounded retries, pagination, city-hint geocoding, and the photo proxy
// upstream leg. Callers see one blocking call with provenance attached.
type Service struct {
	config     *common.PlacesConfig
	cache      *resultCache
	l2         interfaces.CacheStorage
	flight     *flightGroup
	logger     arbor.ILogger
	apiKey     string
	httpClient *http.Client
}

// NewService creates the Places gateway
func NewService(
	config *common.PlacesConfig,
	storageManager interfaces.StorageManager,
	logger arbor.ILogger,
) interfaces.PlacesService {
	// Resolve API key with env-first resolution order: env → KV store → config
	ctx := context.Background()
	apiKey, err := common.ResolveAPIKey(ctx, storageManager.KeyValueStorage(), "places_api_key", config.APIKey)
	if err != nil {
		apiKey = config.APIKey
		logger.Warn().Err(err).Msg("Failed to resolve Places API key, using config value")
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		config:     config,
		cache:      newResultCache(storageManager.CacheStorage(), config.CacheTTL, config.CacheGuardTimeout, config.L1MaxEntries, logger),
		l2:         storageManager.CacheStorage(),
		flight:     newFlightGroup(),
		logger:     logger,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TextSearch executes the mapped provider request. The bias circle is
// resolved before fingerprinting so that two requests converging on the
// same resolved bias share one cache entry regardless of how the bias
// was expressed.
func (s *Service) TextSearch(ctx context.Context, mapping *models.RouteMapping) (*interfaces.PlacesSearchOutcome, error) {
	if s.apiKey == "" {
		return nil, &interfaces.ProviderError{
			Kind: interfaces.ProviderErrorCredential,
			Err:  fmt.Errorf("places api key is not configured"),
		}
	}
	if mapping == nil || strings.TrimSpace(mapping.TextQuery) == "" {
		return nil, fmt.Errorf("text query is required")
	}

	resolved := s.resolveBias(ctx, mapping)
	fingerprint := Fingerprint(resolved)

	if cached, ok := s.cache.Get(ctx, fingerprint); ok {
		s.logger.Debug().
			Str("fingerprint", fingerprint[:12]).
			Int("results", len(cached.Results)).
			Msg("Places search served from cache")
		return &interfaces.PlacesSearchOutcome{
			Results:       cached.Results,
			ServedFrom:    models.SourceCache,
			Pages:         cached.Pages,
			DroppedClosed: cached.DroppedClosed,
		}, nil
	}

	outcome, shared, err := s.flight.Do(fingerprint, func() (*interfaces.PlacesSearchOutcome, error) {
		fetched, fetchErr := s.fetchUpstream(ctx, resolved)
		if fetchErr != nil {
			return nil, fetchErr
		}
		s.cache.Put(ctx, fingerprint, &cachedOutcome{
			Results:       fetched.Results,
			Pages:         fetched.Pages,
			DroppedClosed: fetched.DroppedClosed,
		})
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().
			Str("fingerprint", fingerprint[:12]).
			Msg("Places search coalesced with identical in-flight request")
	}

	// Callers own the result slice; each flight participant gets a copy.
	results := make([]models.Place, len(outcome.Results))
	copy(results, outcome.Results)

	return &interfaces.PlacesSearchOutcome{
		Results:       results,
		ServedFrom:    models.SourceUpstream,
		Pages:         outcome.Pages,
		DroppedClosed: outcome.DroppedClosed,
	}, nil
}
