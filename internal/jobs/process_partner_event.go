package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
)

type processResult struct {
	Applied bool   `json:"applied"`
	Ignored bool   `json:"ignored,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ProcessPartnerEventHandler applies one partner event. Untreatable events
// are a clean no-op: the feed emits them for object types we do not mirror,
// and treating them as failures would just pollute the error counts.
type ProcessPartnerEventHandler struct {
	applier PartnerEventApplier
}

func NewProcessPartnerEventHandler(applier PartnerEventApplier) *ProcessPartnerEventHandler {
	return &ProcessPartnerEventHandler{applier: applier}
}

func (h *ProcessPartnerEventHandler) Type() model.JobType {
	return model.JobTypeProcessPartnerEvent
}

func (h *ProcessPartnerEventHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	var ev model.PartnerEvent
	if err := job.UnmarshalPayload(&ev); err != nil {
		return runner.Outcome{}, fmt.Errorf("decoding partner event payload: %w", err)
	}

	if ev.Type == model.PartnerEventUntreatable || ev.Object == model.PartnerObjectUntreatable {
		slog.InfoContext(ctx, "ignoring untreatable partner event",
			"event", "jobs.process_event.ignored",
			"event_id", ev.ID,
			"event_type", string(ev.Type),
			"event_object", string(ev.Object),
		)
		return runner.Outcome{Result: processResult{Ignored: true, Reason: "untreatable"}}, nil
	}

	if err := h.applier.Apply(ctx, ev); err != nil {
		return runner.Outcome{}, fmt.Errorf("applying partner event %s: %w", ev.ID, err)
	}
	return runner.Outcome{Result: processResult{Applied: true}}, nil
}
