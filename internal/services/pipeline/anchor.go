package pipeline

import (
	"github.com/ternarybob/gusto/internal/models"
)

// Suggested client action attached to a location clarify
const suggestedActionAskLocation = "ASK_LOCATION"

// GuardAnchor verifies that a location-anchored route has something to
// anchor on: user coordinates, a city hint, or a landmark. When all are
// missing it returns a deterministic clarify that blocks the provider call;
// the runner terminates the job in DONE_CLARIFY. Pure function.
func GuardAnchor(sc *StageContext, intent models.Intent) *models.AssistPayload {
	if intent.Route == models.RouteTextSearch {
		return nil
	}
	if sc.HasLocation() || intent.CityHint != "" || intent.Landmark != "" {
		return nil
	}

	return &models.AssistPayload{
		Type:            models.AssistTypeClarify,
		Message:         messageFor(sc.AssistantLanguage, "clarify_location"),
		Question:        messageFor(sc.AssistantLanguage, "clarify_location"),
		SuggestedAction: suggestedActionAskLocation,
		BlocksSearch:    true,
	}
}
