package pipeline

import (
	"strings"

	"github.com/ternarybob/gusto/internal/models"
)

// FilterOutcome reports what the post-filter kept and why entries fell out
type FilterOutcome struct {
	Kept           []models.Place
	DroppedClosed  int
	DroppedByRules int
}

// PostFilter applies the requested constraints to the provider results.
// Pure function over its inputs.
//
// Filters drop only places that provably violate a constraint: the provider
// frequently omits open-now, price, and rating signals, and an absent signal
// is not a violation. openNow therefore drops CLOSED and keeps UNKNOWN
// (ranking's open-boost elevates confirmed-OPEN places instead); a price
// filter keeps unknown price levels; minRating keeps unrated places.
// Permanently closed entries are dropped unconditionally.
func PostFilter(places []models.Place, filters models.SearchFilters) FilterOutcome {
	outcome := FilterOutcome{Kept: make([]models.Place, 0, len(places))}

	for _, place := range places {
		if place.IsPermanentlyClosed() {
			outcome.DroppedClosed++
			continue
		}
		if filters.OpenNow && place.OpenNow == models.OpenNowClosed {
			outcome.DroppedByRules++
			continue
		}
		if len(filters.PriceLevels) > 0 && place.PriceLevel > 0 && !containsInt(filters.PriceLevels, place.PriceLevel) {
			outcome.DroppedByRules++
			continue
		}
		if filters.MinRating > 0 && place.Rating > 0 && place.Rating < filters.MinRating {
			outcome.DroppedByRules++
			continue
		}
		outcome.Kept = append(outcome.Kept, place)
	}

	return outcome
}

// matchesCuisine reports whether any requested cuisine key appears in the
// place's type tags or name. Used as a ranking boost, never as a filter.
func matchesCuisine(place *models.Place, cuisines []string) bool {
	if len(cuisines) == 0 {
		return false
	}

	loweredName := strings.ToLower(place.Name)
	for _, cuisine := range cuisines {
		key := strings.ToLower(strings.TrimSpace(cuisine))
		if key == "" {
			continue
		}
		for _, placeType := range place.Types {
			if strings.Contains(strings.ToLower(placeType), key) {
				return true
			}
		}
		if strings.Contains(loweredName, key) {
			return true
		}
	}
	return false
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
