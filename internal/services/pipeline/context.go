package pipeline

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/models"
)

// UserLocation is the caller's coordinates when both were supplied
type UserLocation struct {
	Latitude  float64
	Longitude float64
}

// StageContext carries the read-only per-request facts every stage needs.
// Stages never mutate it; each returns a fresh output value and the runner
// owns all bookkeeping (progress, timings, journal writes).
type StageContext struct {
	RequestID   string
	SessionHash string
	Query       string

	// AssistantLanguage drives user-facing messages; SearchLanguage drives
	// the canonical provider query. Deliberately independent.
	AssistantLanguage string
	SearchLanguage    string
	Region            string

	Location *UserLocation
	Filters  models.SearchFilters

	MaxResults      int
	PipelineVersion string
	Mode            string

	StartTime time.Time
	Logger    arbor.ILogger
}

// HasLocation reports whether user coordinates are available
func (c *StageContext) HasLocation() bool {
	return c.Location != nil
}

// NewStageContext derives the stage context from a job snapshot
func NewStageContext(job *models.SearchJob, sessionHash, mode string, maxResults int, version string, logger arbor.ILogger) *StageContext {
	sc := &StageContext{
		RequestID:       job.RequestID,
		SessionHash:     sessionHash,
		Query:           job.Query,
		MaxResults:      maxResults,
		PipelineVersion: version,
		Mode:            mode,
		StartTime:       time.Now(),
		Logger:          logger,
	}

	if req := job.Request; req != nil {
		sc.AssistantLanguage = req.AssistantLanguage
		sc.SearchLanguage = req.SearchLanguage
		sc.Region = req.Region
		sc.Filters = req.Filters
		if req.HasLocation() {
			sc.Location = &UserLocation{
				Latitude:  *req.Latitude,
				Longitude: *req.Longitude,
			}
		}
	}

	if sc.AssistantLanguage == "" {
		sc.AssistantLanguage = "en"
	}
	return sc
}
