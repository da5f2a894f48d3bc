package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// CleanupHandler garbage-collects stale state: unclaimed job records whose
// due time is long past, and execution reports beyond the audit retention.
// A record removed here was never executed, so each one is logged as a
// warning for investigation.
type CleanupHandler struct {
	jobs            store.ScheduledJobStore
	reports         store.ReportStore
	jobRetention    time.Duration
	reportRetention time.Duration
	now             func() time.Time
}

func NewCleanupHandler(jobs store.ScheduledJobStore, reports store.ReportStore, jobRetention, reportRetention time.Duration) *CleanupHandler {
	return &CleanupHandler{
		jobs:            jobs,
		reports:         reports,
		jobRetention:    jobRetention,
		reportRetention: reportRetention,
		now:             time.Now,
	}
}

func (h *CleanupHandler) Type() model.JobType {
	return model.JobTypeCleanupJobs
}

func (h *CleanupHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	now := h.now()
	cutoff := now.Add(-h.jobRetention)

	jobsDeleted, removed, err := h.jobs.DeletePastDue(ctx, cutoff)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("deleting stale job records: %w", err)
	}
	for i := range removed {
		slog.WarnContext(ctx, "removed job record that was never executed",
			"event", "jobs.cleanup.stale_record",
			"stale_job_id", removed[i].ID,
			"stale_job_type", string(removed[i].Type),
			"due_at", removed[i].DueAt.Format(time.RFC3339),
		)
	}

	errorCount := 0
	var reportsDeleted int64
	reportsDeleted, err = h.reports.DeleteOlderThan(ctx, now.Add(-h.reportRetention))
	if err != nil {
		errorCount++
		slog.WarnContext(ctx, "failed to delete old execution reports",
			"event", "jobs.cleanup.reports_failed",
			"error", err.Error(),
		)
	}

	stats := model.CleanupStats{
		JobsDeleted:    jobsDeleted,
		ReportsDeleted: reportsDeleted,
		Cutoff:         cutoff.UTC(),
	}
	return runner.Outcome{ErrorCount: errorCount, Result: stats}, nil
}
