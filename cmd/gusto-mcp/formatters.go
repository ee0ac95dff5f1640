package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/gusto/internal/models"
)

// formatSearchResponse renders a terminal search response as markdown.
// Clarify and stopped responses carry no results; their assist payload
// is the whole answer.
func formatSearchResponse(resp *models.SearchResponse, limit int) string {
	var sb strings.Builder

	if resp.Assist != nil && resp.Assist.Type == models.AssistTypeClarify {
		sb.WriteString("## Clarification needed\n\n")
		sb.WriteString(resp.Assist.Message)
		sb.WriteString("\n")
		if resp.Assist.Question != "" {
			sb.WriteString(fmt.Sprintf("\n**Question:** %s\n", resp.Assist.Question))
		}
		return sb.String()
	}

	if resp.Assist != nil && resp.Assist.Type == models.AssistTypeStopped {
		sb.WriteString("## Search stopped\n\n")
		sb.WriteString(resp.Assist.Message)
		sb.WriteString("\n")
		return sb.String()
	}

	results := resp.Results
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	sb.WriteString(fmt.Sprintf("## Results for \"%s\" (%d of %d)\n\n", resp.Query.Original, len(results), len(resp.Results)))

	if resp.Assist != nil && resp.Assist.Message != "" {
		sb.WriteString(resp.Assist.Message)
		sb.WriteString("\n\n")
	}

	if len(results) == 0 {
		sb.WriteString("No restaurants found.\n")
		return sb.String()
	}

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, r.Name))
		if r.Rating > 0 {
			sb.WriteString(fmt.Sprintf("**Rating:** %.1f (%d reviews)\n", r.Rating, r.ReviewCount))
		}
		if r.PriceLevel > 0 {
			sb.WriteString(fmt.Sprintf("**Price:** %s\n", strings.Repeat("$", r.PriceLevel)))
		}
		if r.Address != "" {
			sb.WriteString(fmt.Sprintf("**Address:** %s\n", r.Address))
		}
		switch r.OpenNow {
		case models.OpenNowOpen:
			sb.WriteString("**Open now:** yes\n")
		case models.OpenNowClosed:
			sb.WriteString("**Open now:** no\n")
		}
		if r.DistanceMeters > 0 {
			sb.WriteString(fmt.Sprintf("**Distance:** %s\n", formatDistance(r.DistanceMeters)))
		}
		if r.MapsURI != "" {
			sb.WriteString(fmt.Sprintf("**Map:** %s\n", r.MapsURI))
		}
		sb.WriteString("\n")
	}

	source := resp.Meta.Source
	if source == "" {
		source = models.SourceUpstream
	}
	sb.WriteString(fmt.Sprintf("_Took %d ms, source: %s_\n", resp.Meta.TookMs, source))

	return sb.String()
}

// formatRecentSearches renders the session's job list as markdown
func formatRecentSearches(recent []*models.SearchJob) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Recent Searches (%d)\n\n", len(recent)))

	if len(recent) == 0 {
		sb.WriteString("No searches yet.\n")
		return sb.String()
	}

	for i, job := range recent {
		sb.WriteString(fmt.Sprintf("%d. **%s** - %s\n", i+1, job.Query, job.Status))
		sb.WriteString(fmt.Sprintf("   Submitted: %s\n", job.CreatedAt.Format(time.RFC3339)))
		switch job.Status {
		case models.JobStatusDoneSuccess:
			if job.Result != nil {
				sb.WriteString(fmt.Sprintf("   Results: %d\n", len(job.Result.Results)))
			}
		case models.JobStatusDoneFailed:
			if job.Error != nil {
				sb.WriteString(fmt.Sprintf("   Failed: %s\n", job.Error.Message))
			}
		case models.JobStatusDoneStopped:
			if job.StopMessage != "" {
				sb.WriteString(fmt.Sprintf("   Stopped: %s\n", job.StopMessage))
			}
		case models.JobStatusRunning:
			sb.WriteString(fmt.Sprintf("   Progress: %d%% (%s)\n", job.Progress, job.Stage))
		}
	}

	return sb.String()
}

// formatDistance renders meters below 1km, kilometers above
func formatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
