package models

import (
	"strings"
)

// Submission modes accepted on POST /search
const (
	SearchModeAsync = "async"
	SearchModeSync  = "sync"
)

// SearchRequest is the inbound search payload. Validation tags are enforced
// at the HTTP edge before a job is created.
type SearchRequest struct {
	Query string `json:"query" validate:"required,min=1,max=500"`

	// SearchLanguage drives the canonical provider query; AssistantLanguage
	// drives user-facing messages. The two are deliberately independent.
	SearchLanguage    string `json:"searchLanguage,omitempty" validate:"omitempty,bcp47_language_tag"`
	AssistantLanguage string `json:"assistantLanguage,omitempty" validate:"omitempty,bcp47_language_tag"`

	Region string `json:"region,omitempty" validate:"omitempty,iso3166_1_alpha2"`

	// Optional user coordinates. Both must be present to count as a location.
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`

	Filters SearchFilters `json:"filters,omitempty"`
}

// SearchFilters are the optional constraints applied in the post-filter
// stage. They also participate in the idempotency key.
type SearchFilters struct {
	OpenNow     bool     `json:"openNow,omitempty"`
	PriceLevels []int    `json:"priceLevels,omitempty" validate:"omitempty,dive,min=0,max=4"`
	MinRating   float64  `json:"minRating,omitempty" validate:"omitempty,min=0,max=5"`
	Cuisines    []string `json:"cuisines,omitempty" validate:"omitempty,dive,min=1,max=64"`
}

// HasLocation reports whether usable user coordinates were supplied
func (r *SearchRequest) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// NormalizedQuery returns the query lowered and whitespace-collapsed, the
// form used for idempotency hashing. Display always uses the original.
func (r *SearchRequest) NormalizedQuery() string {
	return strings.Join(strings.Fields(strings.ToLower(r.Query)), " ")
}

// AppliedFilters lists the filters that are active, for response metadata
func (f SearchFilters) AppliedFilters() []string {
	applied := []string{}
	if f.OpenNow {
		applied = append(applied, "openNow")
	}
	if len(f.PriceLevels) > 0 {
		applied = append(applied, "priceLevels")
	}
	if f.MinRating > 0 {
		applied = append(applied, "minRating")
	}
	if len(f.Cuisines) > 0 {
		applied = append(applied, "cuisines")
	}
	return applied
}

// IsZero reports whether no filters are set
func (f SearchFilters) IsZero() bool {
	return !f.OpenNow && len(f.PriceLevels) == 0 && f.MinRating == 0 && len(f.Cuisines) == 0
}
