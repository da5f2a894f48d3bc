package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/partner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

type syncResult struct {
	Skipped         bool `json:"skipped,omitempty"`
	Capped          bool `json:"capped,omitempty"`
	Batches         int  `json:"batches"`
	EventsSeen      int  `json:"events_seen"`
	EventsScheduled int  `json:"events_scheduled"`
	Duplicates      int  `json:"duplicates"`
}

// SyncPartnerEventsHandler drains the partner feed: each pending event is
// scheduled as its own processing job, keyed by event id, then acknowledged.
// An event is only acknowledged once its job record exists, so a crash
// between the two re-delivers the event instead of losing it.
//
// The handler is a singleton: a run that observes another one in flight
// exits cleanly without touching the feed.
type SyncPartnerEventsHandler struct {
	feed       partner.Client
	scheduler  JobScheduler
	inflight   store.InFlightTracker
	maxBatches int
}

func NewSyncPartnerEventsHandler(
	feed partner.Client,
	scheduler JobScheduler,
	inflight store.InFlightTracker,
	maxBatches int,
) *SyncPartnerEventsHandler {
	return &SyncPartnerEventsHandler{
		feed:       feed,
		scheduler:  scheduler,
		inflight:   inflight,
		maxBatches: maxBatches,
	}
}

func (h *SyncPartnerEventsHandler) Type() model.JobType {
	return model.JobTypeSyncPartnerEvents
}

func (h *SyncPartnerEventsHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	busy, err := h.inflight.IsInFlight(ctx, h.Type())
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("checking in-flight marker: %w", err)
	}
	if busy {
		slog.InfoContext(ctx, "another sync is in flight, skipping",
			"event", "jobs.sync.skipped",
		)
		return runner.Outcome{Result: syncResult{Skipped: true}}, nil
	}

	if err := h.inflight.MarkInFlight(ctx, h.Type()); err != nil {
		return runner.Outcome{}, fmt.Errorf("marking sync in flight: %w", err)
	}
	defer func() {
		if err := h.inflight.ClearInFlight(context.WithoutCancel(ctx), h.Type()); err != nil {
			slog.WarnContext(ctx, "failed to clear in-flight marker",
				"event", "jobs.sync.clear_failed",
				"error", err.Error(),
			)
		}
	}()

	result := syncResult{}
	errorCount := 0
	for {
		events, err := h.feed.FetchUnacknowledged(ctx)
		if err != nil {
			return runner.Outcome{ErrorCount: errorCount, Result: result},
				fmt.Errorf("fetching partner events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		result.Batches++
		result.EventsSeen += len(events)
		for _, ev := range events {
			created, err := h.scheduler.ScheduleOnce(ctx, model.JobTypeProcessPartnerEvent, ev.ID, ev, time.Time{})
			if err != nil {
				// Skip the ack so the feed re-delivers this event next run.
				errorCount++
				slog.WarnContext(ctx, "failed to schedule partner event",
					"event", "jobs.sync.schedule_failed",
					"event_id", ev.ID,
					"error", err.Error(),
				)
				continue
			}
			if created {
				result.EventsScheduled++
			} else {
				result.Duplicates++
			}

			if err := h.feed.Acknowledge(ctx, ev.ID); err != nil {
				errorCount++
				slog.WarnContext(ctx, "failed to acknowledge partner event",
					"event", "jobs.sync.ack_failed",
					"event_id", ev.ID,
					"error", err.Error(),
				)
			}
		}

		if h.maxBatches > 0 && result.Batches >= h.maxBatches {
			result.Capped = true
			break
		}
	}

	return runner.Outcome{ErrorCount: errorCount, Result: result}, nil
}
