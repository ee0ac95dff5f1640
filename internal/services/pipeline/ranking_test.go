package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/models"
)

func newTestRanker(generator ContentGenerator) *Ranker {
	logger := arbor.NewLogger()
	relevance := models.RankWeights{Rating: 0.35, Reviews: 0.25, Distance: 0.15, OpenBoost: 0.10, CuisineMatch: 0.15}
	distance := models.RankWeights{Rating: 0.20, Reviews: 0.10, Distance: 0.50, OpenBoost: 0.10, CuisineMatch: 0.10}
	return NewRanker(generator, NewPromptRegistry("", logger), 500*time.Millisecond, relevance, distance, logger)
}

func TestSelectProfileRules(t *testing.T) {
	ranker := newTestRanker(nil)
	location := &UserLocation{Latitude: 35.66, Longitude: 139.70}

	tests := []struct {
		name     string
		route    models.ProviderRoute
		location *UserLocation
		want     string
	}{
		{"nearby with location", models.RouteNearby, location, ProfileDistance},
		{"nearby without location", models.RouteNearby, nil, ProfileRelevance},
		{"textsearch with location", models.RouteTextSearch, location, ProfileRelevance},
		{"landmark without location", models.RouteLandmark, nil, ProfileRelevance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := testStageContext("ramen", tt.location, models.SearchFilters{})
			profile, reason := ranker.SelectProfile(context.Background(), sc, models.Intent{Route: tt.route})
			if profile != tt.want {
				t.Errorf("profile = %q, want %q", profile, tt.want)
			}
			if reason != models.ReasonRuleRouted {
				t.Errorf("reason = %q, want %q", reason, models.ReasonRuleRouted)
			}
		})
	}
}

func TestSelectProfileLandmarkWithLocationConsultsModel(t *testing.T) {
	generator := &stubGenerator{responses: []string{`{"profile": "distance"}`}}
	ranker := newTestRanker(generator)
	sc := testStageContext("ramen near shibuya station", &UserLocation{Latitude: 35.65, Longitude: 139.7}, models.SearchFilters{})

	profile, reason := ranker.SelectProfile(context.Background(), sc, models.Intent{Route: models.RouteLandmark, Landmark: "Shibuya Station"})

	if profile != ProfileDistance {
		t.Errorf("profile = %q, want distance from the model", profile)
	}
	if reason != models.ReasonModelRouted {
		t.Errorf("reason = %q, want %q", reason, models.ReasonModelRouted)
	}
	if generator.calls != 1 {
		t.Errorf("model calls = %d, want 1", generator.calls)
	}
}

func TestSelectProfileModelFailureFallsBackToRelevance(t *testing.T) {
	generator := &stubGenerator{err: errors.New("model unavailable")}
	ranker := newTestRanker(generator)
	sc := testStageContext("ramen near shibuya station", &UserLocation{Latitude: 35.65, Longitude: 139.7}, models.SearchFilters{})

	profile, reason := ranker.SelectProfile(context.Background(), sc, models.Intent{Route: models.RouteLandmark})

	if profile != ProfileRelevance {
		t.Errorf("profile = %q, want relevance fallback", profile)
	}
	if reason != models.ReasonFallbackError {
		t.Errorf("reason = %q, want %q", reason, models.ReasonFallbackError)
	}
}

func TestRankForcesDistanceWeightToZeroWithoutLocation(t *testing.T) {
	ranker := newTestRanker(nil)
	sc := testStageContext("ramen", nil, models.SearchFilters{})

	// Identical except coordinates; with no user location their scores
	// must be identical.
	places := []models.Place{
		{ID: "near", Rating: 4.0, ReviewCount: 100, Latitude: 35.66, Longitude: 139.70},
		{ID: "far", Rating: 4.0, ReviewCount: 100, Latitude: 51.50, Longitude: -0.12},
	}

	ranked := ranker.Rank(sc, ProfileDistance, places)

	if ranked[0].Score != ranked[1].Score {
		t.Errorf("scores differ without user location: %v vs %v", ranked[0].Score, ranked[1].Score)
	}
	if ranked[0].ID != "near" || ranked[1].ID != "far" {
		t.Error("full tie must preserve provider order")
	}
}

func TestRankForcesOpenBoostToZeroWhenNotRequested(t *testing.T) {
	ranker := newTestRanker(nil)
	sc := testStageContext("ramen", nil, models.SearchFilters{})

	places := []models.Place{
		{ID: "unknown", Rating: 4.0, ReviewCount: 100, OpenNow: models.OpenNowUnknown},
		{ID: "open", Rating: 4.0, ReviewCount: 100, OpenNow: models.OpenNowOpen},
	}

	ranked := ranker.Rank(sc, ProfileRelevance, places)

	if ranked[0].Score != ranked[1].Score {
		t.Errorf("open-boost applied without openNow filter: %v vs %v", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankBoostsOpenPlacesWhenRequested(t *testing.T) {
	ranker := newTestRanker(nil)
	sc := testStageContext("ramen", nil, models.SearchFilters{OpenNow: true})

	places := []models.Place{
		{ID: "unknown", Rating: 4.0, ReviewCount: 100, OpenNow: models.OpenNowUnknown},
		{ID: "open", Rating: 4.0, ReviewCount: 100, OpenNow: models.OpenNowOpen},
	}

	ranked := ranker.Rank(sc, ProfileRelevance, places)

	if ranked[0].ID != "open" {
		t.Errorf("first result = %s, want the confirmed-open place", ranked[0].ID)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("open place not boosted: %v vs %v", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankForcesCuisineWeightToZeroWithoutFilter(t *testing.T) {
	ranker := newTestRanker(nil)
	sc := testStageContext("ramen", nil, models.SearchFilters{})

	places := []models.Place{
		{ID: "match", Rating: 4.0, ReviewCount: 100, Types: []string{"japanese_restaurant"}},
		{ID: "other", Rating: 4.0, ReviewCount: 100, Types: []string{"italian_restaurant"}},
	}

	ranked := ranker.Rank(sc, ProfileRelevance, places)

	if ranked[0].Score != ranked[1].Score {
		t.Errorf("cuisine boost applied without cuisine filter: %v vs %v", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankDistanceProfilePrefersNearby(t *testing.T) {
	ranker := newTestRanker(nil)
	sc := testStageContext("ramen near me", &UserLocation{Latitude: 35.6595, Longitude: 139.7005}, models.SearchFilters{})

	places := []models.Place{
		{ID: "far", Rating: 4.6, ReviewCount: 2000, Latitude: 35.7295, Longitude: 139.7109},
		{ID: "near", Rating: 4.2, ReviewCount: 400, Latitude: 35.6600, Longitude: 139.7010},
	}

	ranked := ranker.Rank(sc, ProfileDistance, places)

	if ranked[0].ID != "near" {
		t.Errorf("first result = %s, want the nearby place under the distance profile", ranked[0].ID)
	}
	if ranked[0].DistanceMeters <= 0 {
		t.Error("distance to the user was not computed")
	}
	if ranked[1].DistanceMeters <= ranked[0].DistanceMeters {
		t.Error("distances are inconsistent with the fixture")
	}
}

func TestRankTieBreaksByRatingThenReviews(t *testing.T) {
	logger := arbor.NewLogger()
	// Zero weights force a full score tie so only the tie-break chain orders
	ranker := NewRanker(nil, NewPromptRegistry("", logger), time.Second, models.RankWeights{}, models.RankWeights{}, logger)
	sc := testStageContext("ramen", nil, models.SearchFilters{})

	places := []models.Place{
		{ID: "c", Rating: 4.0, ReviewCount: 50},
		{ID: "a", Rating: 4.5, ReviewCount: 100},
		{ID: "b", Rating: 4.5, ReviewCount: 80},
		{ID: "d", Rating: 4.0, ReviewCount: 50},
	}

	ranked := ranker.Rank(sc, ProfileRelevance, places)

	wantOrder := []string{"a", "b", "c", "d"}
	for i, want := range wantOrder {
		if ranked[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, ranked[i].ID, want)
		}
	}
}

func TestHaversineMeters(t *testing.T) {
	// Tokyo Station to Shibuya Station is roughly 6.5km
	distance := haversineMeters(35.6812, 139.7671, 35.6580, 139.7016)

	if math.Abs(distance-6500) > 500 {
		t.Errorf("distance = %.0fm, want roughly 6500m", distance)
	}
}
