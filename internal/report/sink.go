package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/notify"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// Sink receives execution reports after every run. Save persists the report,
// NotifyOutcome pushes failures to the ops channel, SendRollup summarizes a
// window of reports for the periodic digest.
type Sink interface {
	Save(ctx context.Context, report *model.ExecutionReport) error
	NotifyOutcome(ctx context.Context, report *model.ExecutionReport) error
	SendRollup(ctx context.Context, reports []model.ExecutionReport) error
}

type sink struct {
	store   store.ReportStore
	alerter notify.Alerter
}

func NewSink(reports store.ReportStore, alerter notify.Alerter) Sink {
	return &sink{store: reports, alerter: alerter}
}

func (s *sink) Save(ctx context.Context, report *model.ExecutionReport) error {
	if err := s.store.Save(ctx, report); err != nil {
		return fmt.Errorf("saving execution report: %w", err)
	}
	return nil
}

func (s *sink) NotifyOutcome(ctx context.Context, report *model.ExecutionReport) error {
	if report.Succeeded && report.ErrorCount == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "job %s finished with errors", report.JobType)
	if !report.Succeeded {
		b.WriteString(" (failed)")
	}
	fmt.Fprintf(&b, ": error_count=%d duration_ms=%d", report.ErrorCount, report.DurationMS)
	if report.ErrorMessage != nil {
		fmt.Fprintf(&b, " error=%q", *report.ErrorMessage)
	}

	return s.alerter.Alert(ctx, b.String())
}

func (s *sink) SendRollup(ctx context.Context, reports []model.ExecutionReport) error {
	if len(reports) == 0 {
		slog.InfoContext(ctx, "no execution reports in rollup window", "event", "report.rollup_empty")
		return s.alerter.Alert(ctx, "job rollup: no executions in window")
	}

	type line struct {
		runs     int
		failures int
		errors   int
	}
	byType := map[model.JobType]*line{}
	order := []model.JobType{}
	for i := range reports {
		r := &reports[i]
		l, ok := byType[r.JobType]
		if !ok {
			l = &line{}
			byType[r.JobType] = l
			order = append(order, r.JobType)
		}
		l.runs++
		l.errors += r.ErrorCount
		if !r.Succeeded {
			l.failures++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "job rollup: %d executions\n", len(reports))
	for _, t := range order {
		l := byType[t]
		fmt.Fprintf(&b, "- %s: runs=%d failures=%d errors=%d\n", t, l.runs, l.failures, l.errors)
	}

	return s.alerter.Alert(ctx, b.String())
}
