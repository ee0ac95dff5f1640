package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/gusto/internal/models"
)

// photoProxyPrefix is the proxy path results carry instead of upstream photo
// URLs. The photo handler resolves the reference against the provider.
const photoProxyPrefix = "/api/v1/photos/"

// BuildResponse assembles the success payload from the ranked places. The
// assist summary is the deterministic one; the SSE stream may narrate a
// model-written sentence on top of it.
func BuildResponse(sc *StageContext, mapping models.RouteMapping, classification models.Classification, ranked []RankedPlace, servedFrom string) *models.SearchResponse {
	results := make([]models.PlaceResult, 0, len(ranked))
	for _, place := range ranked {
		results = append(results, toPlaceResult(place))
	}

	groups := groupByStreet(ranked)

	response := &models.SearchResponse{
		RequestID: sc.RequestID,
		Query: models.QueryEcho{
			Original: sc.Query,
			Parsed:   mapping.TextQuery,
			Language: classification.Language,
		},
		Results: results,
		Groups:  groups,
		Chips:   buildChips(sc),
		Assist: &models.AssistPayload{
			Type:    models.AssistTypeSummary,
			Message: fallbackSummary(sc.AssistantLanguage, sc.Query, topNames(ranked, 2)),
		},
		Meta: models.ResponseMeta{
			TookMs:         time.Since(sc.StartTime).Milliseconds(),
			Mode:           sc.Mode,
			AppliedFilters: sc.Filters.AppliedFilters(),
			Confidence:     classification.Confidence,
			Source:         servedFrom,
			Pagination: &models.Pagination{
				PageSize: mapping.MaxResults,
				Returned: len(results),
				HasMore:  mapping.MaxResults > 0 && len(results) >= mapping.MaxResults,
			},
			StreetGrouping: len(groups) > 0,
		},
	}

	return response
}

// BuildClarifyResponse assembles the assistant-terminal clarify payload
func BuildClarifyResponse(sc *StageContext, assist *models.AssistPayload) *models.SearchResponse {
	return &models.SearchResponse{
		RequestID: sc.RequestID,
		Query: models.QueryEcho{
			Original: sc.Query,
			Language: sc.AssistantLanguage,
		},
		Results: []models.PlaceResult{},
		Chips:   []models.Chip{},
		Assist:  assist,
		Meta: models.ResponseMeta{
			TookMs:         time.Since(sc.StartTime).Milliseconds(),
			Mode:           sc.Mode,
			AppliedFilters: sc.Filters.AppliedFilters(),
		},
	}
}

// BuildStoppedResponse synthesizes the read-side payload for a DONE_STOPPED
// job from its stop bookkeeping. Stopped jobs store no result; controllers
// and the assistant stream call this on demand.
func BuildStoppedResponse(job *models.SearchJob) *models.SearchResponse {
	reason := job.StopReason
	if reason == "" {
		reason = models.StopReasonLowConfidence
	}

	lang := "en"
	if job.Request != nil && job.Request.AssistantLanguage != "" {
		lang = job.Request.AssistantLanguage
	}

	message := job.StopMessage
	if message == "" {
		key := "stopped"
		if reason == models.StopReasonCancelled {
			key = "cancelled"
		}
		message = messageFor(lang, key)
	}

	return &models.SearchResponse{
		RequestID: job.RequestID,
		Query: models.QueryEcho{
			Original: job.Query,
			Language: job.Language,
		},
		Results: []models.PlaceResult{},
		Chips:   []models.Chip{},
		Assist: &models.AssistPayload{
			Type:    models.AssistTypeStopped,
			Message: message,
		},
		Meta: models.ResponseMeta{
			AppliedFilters: []string{},
			FailureReason:  reason,
		},
	}
}

func toPlaceResult(ranked RankedPlace) models.PlaceResult {
	result := models.PlaceResult{
		ID:             ranked.ID,
		Name:           ranked.Name,
		Address:        ranked.Address,
		Latitude:       ranked.Latitude,
		Longitude:      ranked.Longitude,
		Rating:         ranked.Rating,
		ReviewCount:    ranked.ReviewCount,
		PriceLevel:     ranked.PriceLevel,
		Types:          ranked.Types,
		OpenNow:        ranked.OpenNow,
		MapsURI:        ranked.MapsURI,
		DistanceMeters: ranked.DistanceMeters,
		Score:          ranked.Score,
	}
	if result.OpenNow == "" {
		result.OpenNow = models.OpenNowUnknown
	}
	if ranked.PhotoRef != "" {
		result.PhotoURL = photoProxyPrefix + ranked.PhotoRef
	}
	return result
}

// groupByStreet clusters results sharing a street. Only streets holding two
// or more places produce a group; larger clusters sort first.
func groupByStreet(ranked []RankedPlace) []models.PlaceGroup {
	byStreet := map[string][]string{}
	order := []string{}
	for _, place := range ranked {
		street := strings.TrimSpace(place.Street)
		if street == "" {
			continue
		}
		if _, seen := byStreet[street]; !seen {
			order = append(order, street)
		}
		byStreet[street] = append(byStreet[street], place.ID)
	}

	groups := []models.PlaceGroup{}
	for _, street := range order {
		ids := byStreet[street]
		if len(ids) < 2 {
			continue
		}
		groups = append(groups, models.PlaceGroup{Title: street, ResultIDs: ids})
	}
	if len(groups) == 0 {
		return nil
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].ResultIDs) > len(groups[j].ResultIDs)
	})
	return groups
}

// buildChips produces the quick-refinement suggestions for the client
func buildChips(sc *StageContext) []models.Chip {
	chips := []models.Chip{}
	if !sc.Filters.OpenNow {
		chips = append(chips, models.Chip{
			Label: messageFor(sc.AssistantLanguage, "chip_open_now"),
			Value: "open_now",
			Kind:  "filter",
		})
	}
	if sc.Filters.MinRating == 0 {
		chips = append(chips, models.Chip{
			Label: messageFor(sc.AssistantLanguage, "chip_top_rated"),
			Value: "min_rating:4.5",
			Kind:  "filter",
		})
	}
	if !sc.HasLocation() {
		chips = append(chips, models.Chip{
			Label: messageFor(sc.AssistantLanguage, "chip_near_me"),
			Value: "near_me",
			Kind:  "location",
		})
	}
	return chips
}

func topNames(ranked []RankedPlace, limit int) []string {
	names := make([]string, 0, limit)
	for _, place := range ranked {
		if len(names) == limit {
			break
		}
		if place.Name != "" {
			names = append(names, place.Name)
		}
	}
	return names
}
