package pipeline

import (
	"strings"

	"github.com/ternarybob/gusto/internal/models"
)

// Radius bounds for a NEARBY bias circle. The provider rejects circles
// larger than 50km.
const (
	defaultNearbyRadiusMeters = 2000
	minBiasRadiusMeters       = 50
	maxBiasRadiusMeters       = 50000
)

// ComposeMapping turns the routed intent into the concrete provider request.
// Pure function: no I/O, no clock, no mutation of its inputs.
//
// The canonical text query is produced in the search language, never the
// assistant language. Only NEARBY with user coordinates ranks by distance;
// TEXTSEARCH keeps relevance ranking regardless of available location. User
// coordinates are not folded into TEXTSEARCH requests so identical queries
// from different callers keep identical cache fingerprints.
func ComposeMapping(sc *StageContext, intent models.Intent) models.RouteMapping {
	mapping := models.RouteMapping{
		Route:           intent.Route,
		TextQuery:       strings.TrimSpace(sc.Query),
		LanguageCode:    sc.SearchLanguage,
		RegionCode:      sc.Region,
		MaxResults:      sc.MaxResults,
		PipelineVersion: sc.PipelineVersion,
		CityHint:        intent.CityHint,
	}

	switch intent.Route {
	case models.RouteLandmark:
		// Fold the landmark into the query text; Places text search resolves
		// "X near Y" natively.
		if intent.Landmark != "" && !strings.Contains(strings.ToLower(mapping.TextQuery), strings.ToLower(intent.Landmark)) {
			mapping.TextQuery = mapping.TextQuery + " near " + intent.Landmark
		}
	case models.RouteNearby:
		if sc.HasLocation() {
			mapping.Bias = &models.BiasCircle{
				Latitude:     sc.Location.Latitude,
				Longitude:    sc.Location.Longitude,
				RadiusMeters: clampRadius(intent.RadiusMeters),
			}
			mapping.RankByDistance = true
		}
		// NEARBY with only a city hint keeps relevance ranking; the geocoded
		// bias circle alone anchors the search.
	}

	return mapping
}

func clampRadius(radius int) int {
	if radius <= 0 {
		return defaultNearbyRadiusMeters
	}
	if radius < minBiasRadiusMeters {
		return minBiasRadiusMeters
	}
	if radius > maxBiasRadiusMeters {
		return maxBiasRadiusMeters
	}
	return radius
}
