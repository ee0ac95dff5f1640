package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/models"
)

// Ranking profiles
const (
	ProfileRelevance = "relevance"
	ProfileDistance  = "distance"
)

const earthRadiusMeters = 6371000.0

// RankedPlace pairs a place with its deterministic score
type RankedPlace struct {
	models.Place
	Score float64
}

// Ranker orders filtered places by a deterministic weighted sum. The weight
// profile is chosen by rule wherever the rule is conclusive; the model is
// consulted only for the ambiguous case and its failure degrades to the
// relevance profile.
type Ranker struct {
	generator ContentGenerator
	prompts   *PromptRegistry
	timeout   time.Duration
	relevance models.RankWeights
	distance  models.RankWeights
	logger    arbor.ILogger
}

// NewRanker creates the ranking stage with the two configured weight profiles
func NewRanker(generator ContentGenerator, prompts *PromptRegistry, timeout time.Duration, relevance, distance models.RankWeights, logger arbor.ILogger) *Ranker {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &Ranker{
		generator: generator,
		prompts:   prompts,
		timeout:   timeout,
		relevance: relevance,
		distance:  distance,
		logger:    logger,
	}
}

// SelectProfile picks the scoring profile for this search. Deterministic
// rules decide every conclusive case; only LANDMARK with user coordinates
// consults the model, and a model failure falls back to relevance.
func (r *Ranker) SelectProfile(ctx context.Context, sc *StageContext, intent models.Intent) (string, string) {
	switch intent.Route {
	case models.RouteNearby:
		if sc.HasLocation() {
			return ProfileDistance, models.ReasonRuleRouted
		}
		return ProfileRelevance, models.ReasonRuleRouted
	case models.RouteLandmark:
		if !sc.HasLocation() {
			return ProfileRelevance, models.ReasonRuleRouted
		}
		profile, err := r.selectWithModel(ctx, sc, intent)
		if err != nil {
			reason := fallbackReason(err)
			r.logger.Warn().
				Err(err).
				Str("request_id", sc.RequestID).
				Str("reason", reason).
				Msg("Rank profile selection degraded to relevance")
			return ProfileRelevance, reason
		}
		return profile, models.ReasonModelRouted
	default:
		return ProfileRelevance, models.ReasonRuleRouted
	}
}

func (r *Ranker) selectWithModel(ctx context.Context, sc *StageContext, intent models.Intent) (string, error) {
	var parsed struct {
		Profile string `json:"profile"`
	}

	vars := map[string]string{
		"query":        sc.Query,
		"route":        string(intent.Route),
		"has_location": strconv.FormatBool(sc.HasLocation()),
	}
	if err := generateJSON(ctx, r.generator, r.prompts.Get(PromptRankProfile), vars, r.timeout, &parsed); err != nil {
		return "", err
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Profile)) {
	case ProfileRelevance:
		return ProfileRelevance, nil
	case ProfileDistance:
		return ProfileDistance, nil
	default:
		return "", fmt.Errorf("model returned unknown profile %q", parsed.Profile)
	}
}

// Rank scores and orders the places under the chosen profile. Absent-signal
// weights are forced to zero before any scoring: no user location zeroes
// distance, no cuisine filter zeroes cuisineMatch, openNow not requested
// zeroes openBoost. Distance to the user is computed here; the provider
// gateway stays provider-pure.
func (r *Ranker) Rank(sc *StageContext, profile string, places []models.Place) []RankedPlace {
	weights := r.relevance
	if profile == ProfileDistance {
		weights = r.distance
	}

	if !sc.HasLocation() {
		weights.Distance = 0
	}
	if len(sc.Filters.Cuisines) == 0 {
		weights.CuisineMatch = 0
	}
	if !sc.Filters.OpenNow {
		weights.OpenBoost = 0
	}

	maxReviews := 0
	for i := range places {
		if places[i].ReviewCount > maxReviews {
			maxReviews = places[i].ReviewCount
		}
	}

	ranked := make([]RankedPlace, len(places))
	for i, place := range places {
		hasDistance := false
		if sc.HasLocation() && (place.Latitude != 0 || place.Longitude != 0) {
			place.DistanceMeters = haversineMeters(sc.Location.Latitude, sc.Location.Longitude, place.Latitude, place.Longitude)
			hasDistance = true
		}
		ranked[i] = RankedPlace{
			Place: place,
			Score: scorePlace(&place, weights, maxReviews, hasDistance, sc.Filters.Cuisines),
		}
	}

	// Tie-break: score desc, rating desc, reviews desc; the stable sort
	// preserves provider order for full ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Rating != ranked[j].Rating {
			return ranked[i].Rating > ranked[j].Rating
		}
		return ranked[i].ReviewCount > ranked[j].ReviewCount
	})

	return ranked
}

func scorePlace(place *models.Place, weights models.RankWeights, maxReviews int, hasDistance bool, cuisines []string) float64 {
	score := weights.Rating * (place.Rating / 5.0)

	if maxReviews > 0 && place.ReviewCount > 0 {
		score += weights.Reviews * (math.Log1p(float64(place.ReviewCount)) / math.Log1p(float64(maxReviews)))
	}
	if weights.Distance > 0 && hasDistance {
		score += weights.Distance * (1.0 / (1.0 + place.DistanceMeters/1000.0))
	}
	if weights.OpenBoost > 0 && place.OpenNow == models.OpenNowOpen {
		score += weights.OpenBoost
	}
	if weights.CuisineMatch > 0 && matchesCuisine(place, cuisines) {
		score += weights.CuisineMatch
	}
	return score
}

// haversineMeters returns the great-circle distance between two coordinates
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
