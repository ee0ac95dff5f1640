package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/gusto/internal/models"
)

// ComputeIdempotencyKey derives the dedup identity of a search request:
// SHA-256 hex over the normalized query, search language, region, user
// coordinates rounded to three decimals (~110m), the canonical filter set,
// and the pipeline version. Assistant language deliberately does not
// participate: the same search in a different UI language is the same work.
func ComputeIdempotencyKey(req *models.SearchRequest, pipelineVersion string) string {
	var b strings.Builder

	b.WriteString(req.NormalizedQuery())
	b.WriteString("|")
	b.WriteString(strings.ToLower(req.SearchLanguage))
	b.WriteString("|")
	b.WriteString(strings.ToUpper(req.Region))
	b.WriteString("|")
	if req.HasLocation() {
		fmt.Fprintf(&b, "%.3f,%.3f", *req.Latitude, *req.Longitude)
	}
	b.WriteString("|")
	b.WriteString(canonicalFilters(req.Filters))
	b.WriteString("|")
	b.WriteString(pipelineVersion)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalFilters renders the filter set order-independently so that
// equivalent requests hash identically.
func canonicalFilters(f models.SearchFilters) string {
	if f.IsZero() {
		return ""
	}

	parts := make([]string, 0, 4)
	if f.OpenNow {
		parts = append(parts, "open")
	}
	if len(f.PriceLevels) > 0 {
		levels := append([]int(nil), f.PriceLevels...)
		sort.Ints(levels)
		parts = append(parts, fmt.Sprintf("price=%v", levels))
	}
	if f.MinRating > 0 {
		parts = append(parts, fmt.Sprintf("rating=%.1f", f.MinRating))
	}
	if len(f.Cuisines) > 0 {
		cuisines := make([]string, 0, len(f.Cuisines))
		for _, c := range f.Cuisines {
			cuisines = append(cuisines, strings.ToLower(strings.TrimSpace(c)))
		}
		sort.Strings(cuisines)
		parts = append(parts, "cuisine="+strings.Join(cuisines, ","))
	}
	return strings.Join(parts, ";")
}
