package pipeline

import (
	"strings"
	"testing"

	"github.com/ternarybob/gusto/internal/models"
)

func rankedFixture() []RankedPlace {
	return []RankedPlace{
		{Place: models.Place{ID: "a", Name: "Ichiran", Street: "Dogenzaka", Rating: 4.6, ReviewCount: 2400, PhotoRef: "places/a/photos/p1"}, Score: 0.91},
		{Place: models.Place{ID: "b", Name: "Afuri", Street: "Dogenzaka", Rating: 4.4, ReviewCount: 1100}, Score: 0.84},
		{Place: models.Place{ID: "c", Name: "Nagi", Street: "Center Gai", Rating: 4.2, ReviewCount: 800}, Score: 0.77},
	}
}

func TestBuildResponseProjectsPlaces(t *testing.T) {
	sc := testStageContext("ramen in shibuya", nil, models.SearchFilters{})
	mapping := models.RouteMapping{Route: models.RouteTextSearch, TextQuery: "ramen in shibuya", MaxResults: 20}
	classification := models.Classification{Language: "en", Confidence: 0.9}

	response := BuildResponse(sc, mapping, classification, rankedFixture(), models.SourceUpstream)

	if len(response.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(response.Results))
	}

	first := response.Results[0]
	if first.ID != "a" || first.Score != 0.91 {
		t.Errorf("first result = %+v", first)
	}
	if first.PhotoURL != photoProxyPrefix+"places/a/photos/p1" {
		t.Errorf("PhotoURL = %q, want proxied path", first.PhotoURL)
	}
	if strings.Contains(first.PhotoURL, "googleapis") {
		t.Error("upstream photo URL leaked into the response")
	}
	if response.Results[1].PhotoURL != "" {
		t.Errorf("photo-less place got PhotoURL %q", response.Results[1].PhotoURL)
	}
	if response.Results[1].OpenNow != models.OpenNowUnknown {
		t.Errorf("absent open-now must project as UNKNOWN, got %q", response.Results[1].OpenNow)
	}

	if response.Query.Original != "ramen in shibuya" || response.Query.Parsed != "ramen in shibuya" {
		t.Errorf("query echo = %+v", response.Query)
	}
	if response.Meta.Source != models.SourceUpstream {
		t.Errorf("Source = %q", response.Meta.Source)
	}
	if response.Meta.Confidence != 0.9 {
		t.Errorf("Confidence = %v", response.Meta.Confidence)
	}
	if response.Assist == nil || response.Assist.Type != models.AssistTypeSummary {
		t.Errorf("Assist = %+v, want a summary", response.Assist)
	}
}

func TestBuildResponseGroupsByStreet(t *testing.T) {
	sc := testStageContext("ramen", nil, models.SearchFilters{})
	mapping := models.RouteMapping{TextQuery: "ramen", MaxResults: 20}

	response := BuildResponse(sc, mapping, models.Classification{}, rankedFixture(), models.SourceCache)

	if len(response.Groups) != 1 {
		t.Fatalf("groups = %d, want 1 (single-member streets don't group)", len(response.Groups))
	}
	group := response.Groups[0]
	if group.Title != "Dogenzaka" {
		t.Errorf("group title = %q", group.Title)
	}
	if len(group.ResultIDs) != 2 || group.ResultIDs[0] != "a" || group.ResultIDs[1] != "b" {
		t.Errorf("group members = %v", group.ResultIDs)
	}
	if !response.Meta.StreetGrouping {
		t.Error("StreetGrouping flag not set")
	}
}

func TestBuildResponsePagination(t *testing.T) {
	sc := testStageContext("ramen", nil, models.SearchFilters{})
	mapping := models.RouteMapping{TextQuery: "ramen", MaxResults: 3}

	response := BuildResponse(sc, mapping, models.Classification{}, rankedFixture(), models.SourceUpstream)

	pagination := response.Meta.Pagination
	if pagination == nil {
		t.Fatal("pagination missing on success response")
	}
	if pagination.PageSize != 3 || pagination.Returned != 3 {
		t.Errorf("pagination = %+v", pagination)
	}
	if !pagination.HasMore {
		t.Error("a full page should report HasMore")
	}
}

func TestBuildResponseChipsReflectState(t *testing.T) {
	sc := testStageContext("ramen", nil, models.SearchFilters{})

	response := BuildResponse(sc, models.RouteMapping{TextQuery: "ramen"}, models.Classification{}, nil, models.SourceUpstream)

	values := map[string]bool{}
	for _, chip := range response.Chips {
		values[chip.Value] = true
	}
	if !values["open_now"] || !values["min_rating:4.5"] || !values["near_me"] {
		t.Errorf("chips = %+v", response.Chips)
	}

	// Applied filters suppress their chips
	sc = testStageContext("ramen", &UserLocation{Latitude: 1, Longitude: 2}, models.SearchFilters{OpenNow: true, MinRating: 4.0})
	response = BuildResponse(sc, models.RouteMapping{TextQuery: "ramen"}, models.Classification{}, nil, models.SourceUpstream)
	if len(response.Chips) != 0 {
		t.Errorf("chips = %+v, want none", response.Chips)
	}
}

func TestBuildClarifyResponseSatisfiesInvariants(t *testing.T) {
	sc := testStageContext("something", nil, models.SearchFilters{})
	assist := &models.AssistPayload{
		Type:         models.AssistTypeClarify,
		Message:      "Where should I look?",
		BlocksSearch: true,
	}

	response := BuildClarifyResponse(sc, assist)

	if violations := models.CheckResponseInvariants(response); len(violations) != 0 {
		t.Errorf("violations = %v", violations)
	}
	if len(response.Results) != 0 || response.Groups != nil || response.Meta.Pagination != nil {
		t.Error("clarify response carries result payload")
	}
	if response.Assist != assist {
		t.Error("assist payload not attached")
	}
}

func TestBuildStoppedResponseSynthesis(t *testing.T) {
	request := &models.SearchRequest{Query: "weather in berlin", AssistantLanguage: "en"}
	job := models.NewSearchJob("req_1", "session-1", "idem-1", request, "p1")
	if err := job.MarkRunning(); err != nil {
		t.Fatal(err)
	}
	if err := job.MarkStopped(models.StopReasonLowConfidence, "I can only help with food."); err != nil {
		t.Fatal(err)
	}

	response := BuildStoppedResponse(job)

	if response.Assist == nil || response.Assist.Type != models.AssistTypeStopped {
		t.Fatalf("Assist = %+v", response.Assist)
	}
	if response.Assist.Message != "I can only help with food." {
		t.Errorf("Message = %q, want the stored stop message", response.Assist.Message)
	}
	if response.Meta.FailureReason != models.StopReasonLowConfidence {
		t.Errorf("FailureReason = %q", response.Meta.FailureReason)
	}
	if violations := models.CheckResponseInvariants(response); len(violations) != 0 {
		t.Errorf("violations = %v", violations)
	}
}

func TestBuildStoppedResponseCancelledDefaultsMessage(t *testing.T) {
	request := &models.SearchRequest{Query: "ramen", AssistantLanguage: "ja"}
	job := models.NewSearchJob("req_2", "session-1", "idem-2", request, "p1")
	if err := job.MarkRunning(); err != nil {
		t.Fatal(err)
	}
	if err := job.MarkStopped(models.StopReasonCancelled, ""); err != nil {
		t.Fatal(err)
	}

	response := BuildStoppedResponse(job)

	if response.Assist.Message != messageFor("ja", "cancelled") {
		t.Errorf("Message = %q, want the Japanese cancelled message", response.Assist.Message)
	}
	if response.Meta.FailureReason != models.StopReasonCancelled {
		t.Errorf("FailureReason = %q", response.Meta.FailureReason)
	}
}
