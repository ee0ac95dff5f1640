// -----------------------------------------------------------------------
// Pipeline stage outputs - Tagged results the runner dispatches on
// -----------------------------------------------------------------------

package models

// FoodSignal is the tri-state food-intent classification
type FoodSignal string

const (
	FoodSignalNo        FoodSignal = "NO"
	FoodSignalUncertain FoodSignal = "UNCERTAIN"
	FoodSignalYes       FoodSignal = "YES"
)

// ClassifyRoute is the classification verdict tag. The runner dispatches
// on it: STOP short-circuits to DONE_STOPPED, ASK_CLARIFY terminates in
// DONE_CLARIFY after the assistant message is generated.
type ClassifyRoute string

const (
	ClassifyContinue   ClassifyRoute = "CONTINUE"
	ClassifyAskClarify ClassifyRoute = "ASK_CLARIFY"
	ClassifyStop       ClassifyRoute = "STOP"
)

// ProviderRoute is the coarse shape of the provider call to make
type ProviderRoute string

const (
	RouteTextSearch ProviderRoute = "TEXTSEARCH"
	RouteNearby     ProviderRoute = "NEARBY"
	RouteLandmark   ProviderRoute = "LANDMARK"
)

// Deterministic fallback reasons recorded when a model stage degrades
const (
	ReasonFallbackTimeout = "fallback_timeout"
	ReasonFallbackError   = "fallback_error"
	ReasonModelRouted     = "model_routed"
	ReasonRuleRouted      = "rule_routed"
)

// Classification is the first stage's tagged output
type Classification struct {
	FoodSignal FoodSignal    `json:"food_signal"`
	Language   string        `json:"language"`
	Route      ClassifyRoute `json:"route"`
	Confidence float64       `json:"confidence"`

	// Message carries the assistant text for ASK_CLARIFY / STOP verdicts
	Message string `json:"message,omitempty"`
}

// Intent is the routing stage's tagged output
type Intent struct {
	Route        ProviderRoute `json:"route"`
	CityHint     string        `json:"city_hint,omitempty"`
	Landmark     string        `json:"landmark,omitempty"`
	RadiusMeters int           `json:"radius_meters,omitempty"`
	Reason       string        `json:"reason"`
	Confidence   float64       `json:"confidence"`

	// Per-field confidence for the extracted anchors
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
}

// BiasCircle is an optional location bias attached to a provider request
type BiasCircle struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters int     `json:"radius_meters"`
}

// RouteMapping is the concrete provider request composed from the intent.
// The canonical TextQuery is produced in the search language, never the
// assistant language. Participates in the gateway cache fingerprint.
type RouteMapping struct {
	Route           ProviderRoute `json:"route"`
	TextQuery       string        `json:"text_query"`
	LanguageCode    string        `json:"language_code"`
	RegionCode      string        `json:"region_code,omitempty"`
	Bias            *BiasCircle   `json:"bias,omitempty"`
	RankByDistance  bool          `json:"rank_by_distance"`
	FieldMask       string        `json:"field_mask,omitempty"`
	MaxResults      int           `json:"max_results"`
	PipelineVersion string        `json:"pipeline_version"`

	// CityHint asks the gateway to geocode a city into a bias circle when
	// no explicit Bias was attached. It does not participate in the cache
	// fingerprint; the resolved bias circle does.
	CityHint string `json:"city_hint,omitempty"`
}

// RankWeights is the weighted-sum scoring profile used by the ranking
// stage. Absent-signal weights are forced to zero before scoring.
type RankWeights struct {
	Rating       float64 `json:"rating"`
	Reviews      float64 `json:"reviews"`
	Distance     float64 `json:"distance"`
	OpenBoost    float64 `json:"open_boost"`
	CuisineMatch float64 `json:"cuisine_match"`
}

// StageTiming records one stage's wall-clock duration for the timings bag
type StageTiming struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
}
