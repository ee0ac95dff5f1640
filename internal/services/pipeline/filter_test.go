package pipeline

import (
	"testing"

	"github.com/ternarybob/gusto/internal/models"
)

func TestPostFilterDropsPermanentlyClosed(t *testing.T) {
	places := []models.Place{
		{ID: "a", Name: "Open Diner", BusinessStatus: models.BusinessStatusOperational},
		{ID: "b", Name: "Gone Diner", BusinessStatus: models.BusinessStatusClosedPermanently},
		{ID: "c", Name: "Paused Diner", BusinessStatus: models.BusinessStatusClosedTemporarily},
	}

	outcome := PostFilter(places, models.SearchFilters{})

	if len(outcome.Kept) != 2 {
		t.Fatalf("kept %d places, want 2", len(outcome.Kept))
	}
	if outcome.DroppedClosed != 1 {
		t.Errorf("DroppedClosed = %d, want 1", outcome.DroppedClosed)
	}
	for _, place := range outcome.Kept {
		if place.ID == "b" {
			t.Error("permanently closed place survived the filter")
		}
	}
}

func TestPostFilterOpenNowKeepsUnknown(t *testing.T) {
	places := []models.Place{
		{ID: "open", OpenNow: models.OpenNowOpen},
		{ID: "closed", OpenNow: models.OpenNowClosed},
		{ID: "unknown", OpenNow: models.OpenNowUnknown},
		{ID: "absent"},
	}

	outcome := PostFilter(places, models.SearchFilters{OpenNow: true})

	if len(outcome.Kept) != 3 {
		t.Fatalf("kept %d places, want 3 (only confirmed-closed drops)", len(outcome.Kept))
	}
	if outcome.DroppedByRules != 1 {
		t.Errorf("DroppedByRules = %d, want 1", outcome.DroppedByRules)
	}
	for _, place := range outcome.Kept {
		if place.ID == "closed" {
			t.Error("confirmed-closed place survived the openNow filter")
		}
	}
}

func TestPostFilterPriceKeepsUnknownLevel(t *testing.T) {
	places := []models.Place{
		{ID: "cheap", PriceLevel: 1},
		{ID: "pricey", PriceLevel: 4},
		{ID: "unknown", PriceLevel: 0},
	}

	outcome := PostFilter(places, models.SearchFilters{PriceLevels: []int{1, 2}})

	if len(outcome.Kept) != 2 {
		t.Fatalf("kept %d places, want 2", len(outcome.Kept))
	}
	for _, place := range outcome.Kept {
		if place.ID == "pricey" {
			t.Error("out-of-range price level survived the filter")
		}
	}
}

func TestPostFilterMinRatingKeepsUnrated(t *testing.T) {
	places := []models.Place{
		{ID: "great", Rating: 4.8},
		{ID: "poor", Rating: 3.1},
		{ID: "unrated", Rating: 0},
	}

	outcome := PostFilter(places, models.SearchFilters{MinRating: 4.0})

	if len(outcome.Kept) != 2 {
		t.Fatalf("kept %d places, want 2", len(outcome.Kept))
	}
	for _, place := range outcome.Kept {
		if place.ID == "poor" {
			t.Error("provably low-rated place survived the filter")
		}
	}
}

func TestPostFilterNoFiltersKeepsEverythingOperational(t *testing.T) {
	places := []models.Place{
		{ID: "a", OpenNow: models.OpenNowClosed, PriceLevel: 4, Rating: 1.0},
		{ID: "b"},
	}

	outcome := PostFilter(places, models.SearchFilters{})

	if len(outcome.Kept) != 2 {
		t.Fatalf("kept %d places, want 2", len(outcome.Kept))
	}
	if outcome.DroppedByRules != 0 {
		t.Errorf("DroppedByRules = %d, want 0", outcome.DroppedByRules)
	}
}

func TestMatchesCuisine(t *testing.T) {
	place := models.Place{
		Name:  "Ramen Ichiraku",
		Types: []string{"japanese_restaurant", "restaurant"},
	}

	tests := []struct {
		name     string
		cuisines []string
		want     bool
	}{
		{"type tag match", []string{"japanese"}, true},
		{"name match", []string{"ramen"}, true},
		{"case insensitive", []string{"RAMEN"}, true},
		{"no match", []string{"italian"}, false},
		{"empty list", nil, false},
		{"blank entry ignored", []string{"  "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesCuisine(&place, tt.cuisines); got != tt.want {
				t.Errorf("matchesCuisine(%v) = %v, want %v", tt.cuisines, got, tt.want)
			}
		})
	}
}
