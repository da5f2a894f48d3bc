package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// The analytics pipeline is four chained stages: dump sizes the work, load
// copies it over in fixed windows, enrich derives reporting columns, views
// refreshes the materialized views. Each stage schedules the next one only
// after it fully succeeded, so a failed stage halts the chain and the next
// scheduled dump starts over from the last loaded timestamp.

type analyticsLoadPayload struct {
	Since time.Time `json:"since"`
	Total int64     `json:"total"`
}

type analyticsDumpResult struct {
	Since time.Time `json:"since"`
	Total int64     `json:"total"`
}

type analyticsLoadResult struct {
	Total   int64 `json:"total"`
	Copied  int64 `json:"copied"`
	Batches int64 `json:"batches"`
}

type analyticsEnrichResult struct {
	Enriched int64 `json:"enriched"`
}

type analyticsViewsResult struct {
	Views []string `json:"views"`
}

// AnalyticsDumpHandler prepares an incremental load: it makes sure the
// warehouse schema exists, finds where the previous load stopped and counts
// the rows to move, then hands off to the load stage.
type AnalyticsDumpHandler struct {
	analytics store.AnalyticsStore
	scheduler JobScheduler
}

func NewAnalyticsDumpHandler(analytics store.AnalyticsStore, scheduler JobScheduler) *AnalyticsDumpHandler {
	return &AnalyticsDumpHandler{analytics: analytics, scheduler: scheduler}
}

func (h *AnalyticsDumpHandler) Type() model.JobType {
	return model.JobTypeAnalyticsDump
}

func (h *AnalyticsDumpHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	if err := h.analytics.EnsureSchema(ctx); err != nil {
		return runner.Outcome{}, fmt.Errorf("ensuring warehouse schema: %w", err)
	}

	since, err := h.analytics.LastLoadedAt(ctx)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("reading last loaded timestamp: %w", err)
	}

	total, err := h.analytics.CountEventsSince(ctx, since)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("counting events since %s: %w", since.Format(time.RFC3339), err)
	}

	payload := analyticsLoadPayload{Since: since, Total: total}
	if err := h.scheduler.ScheduleJob(ctx, model.JobTypeAnalyticsLoad, payload, time.Time{}); err != nil {
		return runner.Outcome{}, fmt.Errorf("scheduling load stage: %w", err)
	}
	return runner.Outcome{Result: analyticsDumpResult{Since: since, Total: total}}, nil
}

// AnalyticsLoadHandler copies the counted rows into the warehouse in fixed
// offset windows. The window size is large on purpose: the copy runs
// server-side and the bound exists only to keep memory flat.
type AnalyticsLoadHandler struct {
	analytics store.AnalyticsStore
	scheduler JobScheduler
	batchSize int64
}

func NewAnalyticsLoadHandler(analytics store.AnalyticsStore, scheduler JobScheduler, batchSize int64) *AnalyticsLoadHandler {
	return &AnalyticsLoadHandler{analytics: analytics, scheduler: scheduler, batchSize: batchSize}
}

func (h *AnalyticsLoadHandler) Type() model.JobType {
	return model.JobTypeAnalyticsLoad
}

func (h *AnalyticsLoadHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	var payload analyticsLoadPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return runner.Outcome{}, fmt.Errorf("decoding load payload: %w", err)
	}

	batches := (payload.Total + h.batchSize - 1) / h.batchSize
	var copied int64
	for i := int64(0); i < batches; i++ {
		n, err := h.analytics.CopyEventsBatch(ctx, payload.Since, h.batchSize, i*h.batchSize)
		if err != nil {
			return runner.Outcome{Result: analyticsLoadResult{Total: payload.Total, Copied: copied, Batches: i}},
				fmt.Errorf("copying events batch %d/%d: %w", i+1, batches, err)
		}
		copied += n
	}

	if err := h.scheduler.ScheduleJob(ctx, model.JobTypeAnalyticsEnrich, nil, time.Time{}); err != nil {
		return runner.Outcome{Result: analyticsLoadResult{Total: payload.Total, Copied: copied, Batches: batches}},
			fmt.Errorf("scheduling enrich stage: %w", err)
	}
	return runner.Outcome{Result: analyticsLoadResult{Total: payload.Total, Copied: copied, Batches: batches}}, nil
}

// AnalyticsEnrichHandler fills in the derived reporting columns for rows
// the load stage just brought in.
type AnalyticsEnrichHandler struct {
	analytics store.AnalyticsStore
	scheduler JobScheduler
}

func NewAnalyticsEnrichHandler(analytics store.AnalyticsStore, scheduler JobScheduler) *AnalyticsEnrichHandler {
	return &AnalyticsEnrichHandler{analytics: analytics, scheduler: scheduler}
}

func (h *AnalyticsEnrichHandler) Type() model.JobType {
	return model.JobTypeAnalyticsEnrich
}

func (h *AnalyticsEnrichHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	enriched, err := h.analytics.EnrichEvents(ctx)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("enriching events: %w", err)
	}

	if err := h.scheduler.ScheduleJob(ctx, model.JobTypeAnalyticsViews, nil, time.Time{}); err != nil {
		return runner.Outcome{Result: analyticsEnrichResult{Enriched: enriched}},
			fmt.Errorf("scheduling views stage: %w", err)
	}
	return runner.Outcome{Result: analyticsEnrichResult{Enriched: enriched}}, nil
}

// AnalyticsViewsHandler refreshes the materialized views. Final stage,
// nothing to chain.
type AnalyticsViewsHandler struct {
	analytics store.AnalyticsStore
}

func NewAnalyticsViewsHandler(analytics store.AnalyticsStore) *AnalyticsViewsHandler {
	return &AnalyticsViewsHandler{analytics: analytics}
}

func (h *AnalyticsViewsHandler) Type() model.JobType {
	return model.JobTypeAnalyticsViews
}

func (h *AnalyticsViewsHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	views, err := h.analytics.RefreshViews(ctx)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("refreshing materialized views: %w", err)
	}
	return runner.Outcome{Result: analyticsViewsResult{Views: views}}, nil
}
