package jobs

import (
	"testing"

	"github.com/ternarybob/gusto/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestComputeIdempotencyKey(t *testing.T) {
	base := func() *models.SearchRequest {
		return &models.SearchRequest{
			Query:          "Sushi in Shibuya",
			SearchLanguage: "ja",
			Region:         "JP",
			Latitude:       floatPtr(35.6581),
			Longitude:      floatPtr(139.7017),
		}
	}

	key := ComputeIdempotencyKey(base(), "p1")
	if len(key) != 64 {
		t.Fatalf("Expected 64-char sha256 hex, got %d chars", len(key))
	}

	t.Run("stable across calls", func(t *testing.T) {
		if ComputeIdempotencyKey(base(), "p1") != key {
			t.Error("Same request produced different keys")
		}
	})

	t.Run("query case and whitespace do not matter", func(t *testing.T) {
		req := base()
		req.Query = "  sushi   IN shibuya "
		if ComputeIdempotencyKey(req, "p1") != key {
			t.Error("Normalized-equal queries produced different keys")
		}
	})

	t.Run("assistant language does not participate", func(t *testing.T) {
		req := base()
		req.AssistantLanguage = "en"
		if ComputeIdempotencyKey(req, "p1") != key {
			t.Error("Assistant language changed the key")
		}
	})

	t.Run("coordinates rounded to three decimals", func(t *testing.T) {
		req := base()
		req.Latitude = floatPtr(35.65812)
		req.Longitude = floatPtr(139.70168)
		if ComputeIdempotencyKey(req, "p1") != key {
			t.Error("Sub-110m coordinate jitter changed the key")
		}

		moved := base()
		moved.Latitude = floatPtr(35.66)
		if ComputeIdempotencyKey(moved, "p1") == key {
			t.Error("Materially different coordinates kept the key")
		}
	})

	t.Run("search language matters", func(t *testing.T) {
		req := base()
		req.SearchLanguage = "en"
		if ComputeIdempotencyKey(req, "p1") == key {
			t.Error("Different search language kept the key")
		}
	})

	t.Run("pipeline version matters", func(t *testing.T) {
		if ComputeIdempotencyKey(base(), "p2") == key {
			t.Error("Different pipeline version kept the key")
		}
	})

	t.Run("filter order does not matter", func(t *testing.T) {
		a := base()
		a.Filters = models.SearchFilters{Cuisines: []string{"ramen", "sushi"}, PriceLevels: []int{2, 1}}
		b := base()
		b.Filters = models.SearchFilters{Cuisines: []string{"Sushi", "Ramen"}, PriceLevels: []int{1, 2}}
		if ComputeIdempotencyKey(a, "p1") != ComputeIdempotencyKey(b, "p1") {
			t.Error("Equivalent filter sets produced different keys")
		}
	})

	t.Run("filters participate", func(t *testing.T) {
		req := base()
		req.Filters = models.SearchFilters{OpenNow: true}
		if ComputeIdempotencyKey(req, "p1") == key {
			t.Error("Adding a filter kept the key")
		}
	})
}
