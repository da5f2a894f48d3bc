package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/report"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/runner"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

type rollupResult struct {
	Executions int `json:"executions"`
	Failures   int `json:"failures"`
}

// ReportRollupHandler pushes a digest of the last window's executions to
// the ops channel.
type ReportRollupHandler struct {
	reports store.ReportStore
	sink    report.Sink
	window  time.Duration
	now     func() time.Time
}

func NewReportRollupHandler(reports store.ReportStore, sink report.Sink, window time.Duration) *ReportRollupHandler {
	return &ReportRollupHandler{
		reports: reports,
		sink:    sink,
		window:  window,
		now:     time.Now,
	}
}

func (h *ReportRollupHandler) Type() model.JobType {
	return model.JobTypeReportRollup
}

func (h *ReportRollupHandler) Handle(ctx context.Context, job *model.JobRecord) (runner.Outcome, error) {
	since := h.now().Add(-h.window)
	reports, err := h.reports.ListSince(ctx, since)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("listing execution reports since %s: %w", since.Format(time.RFC3339), err)
	}

	if err := h.sink.SendRollup(ctx, reports); err != nil {
		return runner.Outcome{}, fmt.Errorf("sending rollup digest: %w", err)
	}

	failures := 0
	for i := range reports {
		if !reports[i].Succeeded {
			failures++
		}
	}
	return runner.Outcome{Result: rollupResult{Executions: len(reports), Failures: failures}}, nil
}
