package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/models"
)

// IntentRouter picks the provider route and extracts location anchors from
// the query. It never propagates an error: the deterministic fallback is a
// plain TEXTSEARCH intent tagged with the degradation reason.
type IntentRouter struct {
	generator ContentGenerator
	prompts   *PromptRegistry
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewIntentRouter creates the intent routing stage
func NewIntentRouter(generator ContentGenerator, prompts *PromptRegistry, timeout time.Duration, logger arbor.ILogger) *IntentRouter {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &IntentRouter{
		generator: generator,
		prompts:   prompts,
		timeout:   timeout,
		logger:    logger,
	}
}

// Route resolves the provider route for the query
func (r *IntentRouter) Route(ctx context.Context, sc *StageContext) models.Intent {
	intent, err := r.routeWithModel(ctx, sc)
	if err == nil {
		return intent
	}

	reason := fallbackReason(err)
	r.logger.Warn().
		Err(err).
		Str("request_id", sc.RequestID).
		Str("reason", reason).
		Msg("Intent routing degraded to TEXTSEARCH")

	return models.Intent{
		Route:      models.RouteTextSearch,
		Reason:     reason,
		Confidence: 0.3,
	}
}

func (r *IntentRouter) routeWithModel(ctx context.Context, sc *StageContext) (models.Intent, error) {
	var parsed struct {
		Route           string             `json:"route"`
		CityHint        string             `json:"city_hint"`
		Landmark        string             `json:"landmark"`
		RadiusMeters    int                `json:"radius_meters"`
		Reason          string             `json:"reason"`
		Confidence      float64            `json:"confidence"`
		FieldConfidence map[string]float64 `json:"field_confidence"`
	}

	vars := map[string]string{
		"query":        sc.Query,
		"has_location": strconv.FormatBool(sc.HasLocation()),
	}
	if err := generateJSON(ctx, r.generator, r.prompts.Get(PromptIntent), vars, r.timeout, &parsed); err != nil {
		return models.Intent{}, err
	}

	intent := models.Intent{
		Route:           models.ProviderRoute(strings.ToUpper(strings.TrimSpace(parsed.Route))),
		CityHint:        strings.TrimSpace(parsed.CityHint),
		Landmark:        strings.TrimSpace(parsed.Landmark),
		RadiusMeters:    parsed.RadiusMeters,
		Reason:          strings.TrimSpace(parsed.Reason),
		Confidence:      parsed.Confidence,
		FieldConfidence: parsed.FieldConfidence,
	}

	switch intent.Route {
	case models.RouteTextSearch, models.RouteNearby, models.RouteLandmark:
	default:
		return models.Intent{}, fmt.Errorf("model returned unknown route %q", parsed.Route)
	}
	if intent.Confidence < 0 || intent.Confidence > 1 {
		return models.Intent{}, fmt.Errorf("model returned confidence %.2f outside [0,1]", parsed.Confidence)
	}
	if intent.RadiusMeters < 0 {
		intent.RadiusMeters = 0
	}
	if intent.Reason == "" {
		intent.Reason = models.ReasonModelRouted
	}
	return intent, nil
}
