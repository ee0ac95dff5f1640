package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// Stage names recorded in progress milestones and timing logs
const (
	StageAccepted       = "accepted"
	StageClassification = "classification"
	StageIntent         = "intent"
	StageMapping        = "mapping"
	StageAnchorGuard    = "anchor_guard"
	StageProviderCall   = "provider_call"
	StagePostFilter     = "post_filter"
	StageRanking        = "ranking"
	StageResponseBuild  = "response_build"
)

const (
	defaultDeadline      = 30 * time.Second
	defaultHeartbeat     = 15 * time.Second
	defaultSearchResults = 20
	terminalSaveTimeout  = 5 * time.Second
)

// Runner executes one search job through the stage chain. It is the sole
// writer of the job record while running. The hard deadline bounds the whole
// run; terminal journal writes use a fresh context so a fired deadline can
// never strand a job in RUNNING.
type Runner struct {
	jobs       interfaces.SearchJobStorage
	places     interfaces.PlacesService
	events     interfaces.EventService
	authorizer interfaces.SessionAuthorizer

	classifier *Classifier
	intents    *IntentRouter
	ranker     *Ranker

	deadline  time.Duration
	heartbeat time.Duration
	version   string
	logger    arbor.ILogger
}

// NewRunner wires the stage chain from the pipeline configuration
func NewRunner(
	generator ContentGenerator,
	prompts *PromptRegistry,
	jobs interfaces.SearchJobStorage,
	places interfaces.PlacesService,
	events interfaces.EventService,
	authorizer interfaces.SessionAuthorizer,
	config *common.PipelineConfig,
	logger arbor.ILogger,
) *Runner {
	deadline := common.ParseDurationOr(config.Deadline, defaultDeadline)
	heartbeat := common.ParseDurationOr(config.HeartbeatInterval, defaultHeartbeat)
	stageTimeout := common.ParseDurationOr(config.StageTimeout, 6*time.Second)

	relevance := models.RankWeights{
		Rating:       config.RelevanceWeights.Rating,
		Reviews:      config.RelevanceWeights.Reviews,
		Distance:     config.RelevanceWeights.Distance,
		OpenBoost:    config.RelevanceWeights.OpenBoost,
		CuisineMatch: config.RelevanceWeights.CuisineMatch,
	}
	distance := models.RankWeights{
		Rating:       config.DistanceWeights.Rating,
		Reviews:      config.DistanceWeights.Reviews,
		Distance:     config.DistanceWeights.Distance,
		OpenBoost:    config.DistanceWeights.OpenBoost,
		CuisineMatch: config.DistanceWeights.CuisineMatch,
	}

	return &Runner{
		jobs:       jobs,
		places:     places,
		events:     events,
		authorizer: authorizer,
		classifier: NewClassifier(generator, prompts, stageTimeout, logger),
		intents:    NewIntentRouter(generator, prompts, stageTimeout, logger),
		ranker:     NewRanker(generator, prompts, stageTimeout, relevance, distance, logger),
		deadline:   deadline,
		heartbeat:  heartbeat,
		version:    config.Version,
		logger:     logger,
	}
}

// Run executes the job to a terminal state. It blocks until done; async
// submissions spawn it on a goroutine. ctx is the job's cancellation root:
// the controller cancels it on an owner cancel request, and the runner
// imposes the hard deadline on top.
func (r *Runner) Run(ctx context.Context, job *models.SearchJob, mode string) {
	runCtx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	sessionHash := ""
	if r.authorizer != nil {
		sessionHash = r.authorizer.HashSession(job.OwnerSessionID)
	}
	sc := NewStageContext(job, sessionHash, mode, defaultSearchResults, r.version, r.logger)

	r.logger.Info().
		Str("request_id", job.RequestID).
		Str("session_hash", sessionHash).
		Str("mode", mode).
		Str("pipeline_version", r.version).
		Msg("Pipeline run starting")

	if err := job.MarkRunning(); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Job cannot start")
		return
	}
	if err := r.jobs.SaveJob(runCtx, job); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Failed to persist RUNNING transition")
	}

	stopHeartbeat := r.startHeartbeat(runCtx, job.RequestID)
	defer stopHeartbeat()

	r.publish(runCtx, models.NewEvent(models.EventProgress, job.RequestID, StageAccepted, map[string]interface{}{
		"status":   string(models.JobStatusRunning),
		"progress": 5,
	}))

	r.execute(runCtx, job, sc)
}

func (r *Runner) execute(ctx context.Context, job *models.SearchJob, sc *StageContext) {
	timings := make([]models.StageTiming, 0, 8)
	clock := func(stage string) func() {
		started := time.Now()
		return func() {
			timings = append(timings, models.StageTiming{Stage: stage, DurationMs: time.Since(started).Milliseconds()})
		}
	}

	// Classification
	done := clock(StageClassification)
	classification := r.classifier.Classify(ctx, sc)
	done()
	job.Language = classification.Language
	job.SetProgress(20, StageClassification)
	r.saveProgress(ctx, job)

	if r.abortedAndFinished(ctx, job, sc, timings) {
		return
	}

	switch classification.Route {
	case models.ClassifyStop:
		r.finishStopped(job, sc, models.StopReasonLowConfidence, classification.Message, timings)
		return
	case models.ClassifyAskClarify:
		r.finishClarify(job, sc, &models.AssistPayload{
			Type:    models.AssistTypeClarify,
			Message: classification.Message,
		}, timings)
		return
	}

	// Intent routing
	done = clock(StageIntent)
	intent := r.intents.Route(ctx, sc)
	done()
	job.SetProgress(35, StageIntent)
	r.saveProgress(ctx, job)

	if r.abortedAndFinished(ctx, job, sc, timings) {
		return
	}

	// Route mapping and the missing-anchor guard are pure
	done = clock(StageMapping)
	mapping := ComposeMapping(sc, intent)
	done()

	if assist := GuardAnchor(sc, intent); assist != nil {
		r.finishClarify(job, sc, assist, timings)
		return
	}
	job.SetProgress(45, StageAnchorGuard)
	r.saveProgress(ctx, job)

	// Provider call
	done = clock(StageProviderCall)
	outcome, err := r.places.TextSearch(ctx, &mapping)
	done()
	if err != nil {
		// Cancellation frequently surfaces as the provider error; the
		// abort check decides TIMEOUT vs CANCELLED first.
		if r.abortedAndFinished(ctx, job, sc, timings) {
			return
		}
		code, message := translateProviderError(err)
		r.logger.Warn().
			Err(err).
			Str("request_id", job.RequestID).
			Str("code", code).
			Msg("Provider call failed")
		r.finishFailed(job, sc, code, message, timings)
		return
	}
	job.SetProgress(70, StageProviderCall)
	r.saveProgress(ctx, job)

	if r.abortedAndFinished(ctx, job, sc, timings) {
		return
	}

	// Post-filter
	done = clock(StagePostFilter)
	filtered := PostFilter(outcome.Results, sc.Filters)
	done()

	// Ranking
	done = clock(StageRanking)
	profile, profileReason := r.ranker.SelectProfile(ctx, sc, intent)
	ranked := r.ranker.Rank(sc, profile, filtered.Kept)
	done()
	job.SetProgress(85, StageRanking)
	r.saveProgress(ctx, job)

	if r.abortedAndFinished(ctx, job, sc, timings) {
		return
	}

	// Response build & validate
	done = clock(StageResponseBuild)
	response := BuildResponse(sc, mapping, classification, ranked, outcome.ServedFrom)
	violations := models.SanitizeResponse(response)
	done()
	for _, violation := range violations {
		r.logger.Error().
			Str("request_id", job.RequestID).
			Str("violation", violation).
			Msg("Response invariant violation sanitized")
	}

	r.logger.Info().
		Str("request_id", job.RequestID).
		Str("route", string(intent.Route)).
		Str("profile", profile).
		Str("profile_reason", profileReason).
		Int("results", len(response.Results)).
		Int("dropped_closed", outcome.DroppedClosed+filtered.DroppedClosed).
		Int("dropped_by_rules", filtered.DroppedByRules).
		Str("source", outcome.ServedFrom).
		Msg("Search pipeline complete")

	r.finishSuccess(job, sc, response, timings)
}

// abortedAndFinished checks the run context before the next side-effect.
// A dead context records the terminal state (TIMEOUT for the deadline,
// CANCELLED for an owner cancel) and stops the pipeline.
func (r *Runner) abortedAndFinished(ctx context.Context, job *models.SearchJob, sc *StageContext, timings []models.StageTiming) bool {
	if ctx.Err() == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.finishFailed(job, sc, models.FailureCodeTimeout, "search timed out", timings)
	} else {
		r.finishStopped(job, sc, models.StopReasonCancelled, messageFor(sc.AssistantLanguage, "cancelled"), timings)
	}
	return true
}

func (r *Runner) finishSuccess(job *models.SearchJob, sc *StageContext, response *models.SearchResponse, timings []models.StageTiming) {
	if err := job.MarkSuccess(response); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Terminal transition rejected")
		return
	}
	r.saveTerminal(job, sc, timings)
	r.publishTerminal(models.NewEvent(models.EventReady, job.RequestID, StageResponseBuild, map[string]interface{}{
		"status":  string(job.Status),
		"results": len(response.Results),
	}))
}

func (r *Runner) finishClarify(job *models.SearchJob, sc *StageContext, assist *models.AssistPayload, timings []models.StageTiming) {
	response := BuildClarifyResponse(sc, assist)
	for _, violation := range models.SanitizeResponse(response) {
		r.logger.Error().
			Str("request_id", job.RequestID).
			Str("violation", violation).
			Msg("Response invariant violation sanitized")
	}
	if err := job.MarkClarify(response); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Terminal transition rejected")
		return
	}
	r.saveTerminal(job, sc, timings)
	r.publishTerminal(models.NewEvent(models.EventClarify, job.RequestID, job.Stage, map[string]interface{}{
		"message":      assist.Message,
		"blocksSearch": assist.BlocksSearch,
	}))
}

func (r *Runner) finishStopped(job *models.SearchJob, sc *StageContext, reason, message string, timings []models.StageTiming) {
	if err := job.MarkStopped(reason, message); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Terminal transition rejected")
		return
	}
	r.saveTerminal(job, sc, timings)
	r.publishTerminal(models.NewEvent(models.EventStopped, job.RequestID, job.Stage, map[string]interface{}{
		"reason":  reason,
		"message": message,
	}))
}

func (r *Runner) finishFailed(job *models.SearchJob, sc *StageContext, code, message string, timings []models.StageTiming) {
	traceID := common.NewTraceID()
	if err := job.MarkFailed(code, message, traceID); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Terminal transition rejected")
		return
	}
	r.saveTerminal(job, sc, timings)
	r.publishTerminal(models.NewEvent(models.EventError, job.RequestID, job.Stage, map[string]interface{}{
		"code":    code,
		"message": message,
		"traceId": traceID,
	}))
}

// saveProgress journals a stage milestone. Skipped entirely once the run
// context is dead; failures are non-fatal.
func (r *Runner) saveProgress(ctx context.Context, job *models.SearchJob) {
	if ctx.Err() != nil {
		return
	}
	if err := r.jobs.SaveJob(ctx, job); err != nil {
		r.logger.Warn().Err(err).Str("request_id", job.RequestID).Msg("Failed to journal stage milestone")
	}
}

// saveTerminal journals the terminal state under a fresh context so a fired
// deadline cannot strand the job in RUNNING
func (r *Runner) saveTerminal(job *models.SearchJob, sc *StageContext, timings []models.StageTiming) {
	saveCtx, cancel := context.WithTimeout(context.Background(), terminalSaveTimeout)
	defer cancel()

	if err := r.jobs.SaveJob(saveCtx, job); err != nil {
		r.logger.Error().
			Err(err).
			Str("request_id", job.RequestID).
			Str("status", string(job.Status)).
			Msg("Failed to journal terminal state")
	}

	event := r.logger.Debug().Str("request_id", job.RequestID).Str("status", string(job.Status))
	total := int64(0)
	for _, timing := range timings {
		event = event.Int64(timing.Stage+"_ms", timing.DurationMs)
		total += timing.DurationMs
	}
	event.Int64("total_ms", total).Msg("Stage timings")
}

// publish sends a frame. Guarded: delivery is fire-and-forget and a publish
// failure never affects the job's terminal status.
func (r *Runner) publish(ctx context.Context, event *models.Event) {
	if r.events == nil {
		return
	}
	r.events.Publish(ctx, event)
}

// publishTerminal sends the final frame for a run and waits for delivery.
// The runner goroutine exits right after, so an async publish here could
// lose the frame to a handler still in flight.
func (r *Runner) publishTerminal(event *models.Event) {
	if r.events == nil {
		return
	}
	r.events.PublishSync(context.Background(), event)
}

func (r *Runner) startHeartbeat(ctx context.Context, requestID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.jobs.UpdateHeartbeat(ctx, requestID); err != nil {
					r.logger.Warn().Err(err).Str("request_id", requestID).Msg("Heartbeat refresh failed")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// translateProviderError maps a gateway failure onto the stable job failure
// codes clients see
func translateProviderError(err error) (string, string) {
	var providerErr *interfaces.ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.Kind {
		case interfaces.ProviderErrorTimeout:
			return models.FailureCodeTimeout, "search provider timed out"
		case interfaces.ProviderErrorCredential:
			return models.FailureCodeSearchFailed, "search provider is not configured"
		default:
			return models.FailureCodeSearchFailed, "search provider request failed"
		}
	}
	return models.FailureCodeInternal, "search failed unexpectedly"
}
