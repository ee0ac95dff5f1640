package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"github.com/ternarybob/gusto/internal/models"
)

// Maintenance job names
const (
	JobCachePurge    = "cache-purge"
	JobStaleSweep    = "stale-sweep"
	JobTerminalPurge = "job-purge"
	JobValueGC       = "badger-gc"
)

const maintenanceTimeout = 30 * time.Second

// CachePurgeHandler returns a job that evicts expired provider cache entries
func CachePurgeHandler(cache interfaces.CacheStorage, logger arbor.ILogger) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()

		purged, err := cache.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("cache purge failed: %w", err)
		}
		if purged > 0 {
			logger.Info().Int("purged", purged).Msg("Expired cache entries removed")
		}
		return nil
	}
}

// StaleSweepHandler returns a job that fails RUNNING jobs whose heartbeat
// went quiet. The sweep is a backstop for process crashes: the submit-time
// decider already refuses to reuse such jobs, this records the loss on the
// job itself so clients polling it see a terminal state.
func StaleSweepHandler(jobs interfaces.SearchJobStorage, olderThan time.Duration, logger arbor.ILogger) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()

		stale, err := jobs.ListStaleRunning(ctx, olderThan)
		if err != nil {
			return fmt.Errorf("stale job query failed: %w", err)
		}

		swept := 0
		for _, job := range stale {
			if err := job.MarkFailed(models.FailureCodeStale, "search worker stopped reporting progress", common.NewTraceID()); err != nil {
				continue
			}
			if err := jobs.SaveJob(ctx, job); err != nil {
				logger.Warn().
					Err(err).
					Str("request_id", job.RequestID).
					Msg("Failed to journal stale job")
				continue
			}
			swept++
		}

		if swept > 0 {
			logger.Warn().Int("swept", swept).Msg("Stale RUNNING jobs marked failed")
		}
		return nil
	}
}

// TerminalPurgeHandler returns a job that deletes terminal jobs past their
// retention window
func TerminalPurgeHandler(jobs interfaces.SearchJobStorage, retention time.Duration, logger arbor.ILogger) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()

		deleted, err := jobs.DeleteTerminalBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("terminal job purge failed: %w", err)
		}
		if deleted > 0 {
			logger.Info().Int("deleted", deleted).Msg("Expired terminal jobs purged")
		}
		return nil
	}
}

// ValueLogGCHandler returns a job that reclaims Badger value log space.
// Badger never garbage-collects value logs on its own, and each GC call
// rewrites at most one log file, so the handler loops until Badger reports
// nothing left to rewrite.
func ValueLogGCHandler(db *badger.DB, logger arbor.ILogger) func() error {
	return func() error {
		rewritten := 0
		for {
			err := db.RunValueLogGC(0.5)
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			if err != nil {
				return fmt.Errorf("value log gc failed: %w", err)
			}
			rewritten++
		}
		if rewritten > 0 {
			logger.Info().Int("files", rewritten).Msg("Badger value log files reclaimed")
		}
		return nil
	}
}
