package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/SocialGouv/pass-emploi-api-sub007/common/id"
	"github.com/SocialGouv/pass-emploi-api-sub007/common/logger"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/report"
)

// Runner executes one job through its registered handler and emits exactly
// one execution report per invocation, whether the handler succeeds, fails
// or panics.
type Runner struct {
	registry *Registry
	sink     report.Sink
	monitor  Monitor
	now      func() time.Time
}

func New(registry *Registry, sink report.Sink, monitor Monitor) *Runner {
	return &Runner{
		registry: registry,
		sink:     sink,
		monitor:  monitor,
		now:      time.Now,
	}
}

// Execute runs the job and returns the report alongside the handler error,
// if any. The returned error tells the caller whether to ack or retry; the
// report has already been persisted either way.
func (r *Runner) Execute(ctx context.Context, job *model.JobRecord) (*model.ExecutionReport, error) {
	jobType := string(job.Type)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     &job.ID,
		JobType:   &jobType,
		Component: "jobs.runner",
	})

	sc := logger.StartSpan(ctx, "runner.execute "+jobType, trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	handler, ok := r.registry.Handler(job.Type)
	if !ok {
		// Unreachable when the registry was validated at startup, but a
		// record of an unknown type must still leave a trace.
		err := fmt.Errorf("no handler for job type %q", job.Type)
		r.monitor.CaptureError(ctx, job.Type, err)
		return nil, err
	}

	start := r.now()
	outcome, err := r.safeHandle(ctx, handler, job)
	elapsed := r.now().Sub(start)

	rep := &model.ExecutionReport{
		ID:         id.New(),
		JobType:    job.Type,
		ExecutedAt: start.UTC(),
		Succeeded:  err == nil,
		ErrorCount: outcome.ErrorCount,
		DurationMS: elapsed.Milliseconds(),
	}
	if outcome.Result != nil {
		raw, marshalErr := json.Marshal(outcome.Result)
		if marshalErr != nil {
			slog.WarnContext(ctx, "failed to encode handler result",
				"event", "runner.result_encode_failed",
				"error", marshalErr.Error(),
			)
		} else {
			rep.Result = raw
		}
	}
	if err != nil {
		rep.ErrorMessage = logger.Ptr(logger.Truncate(err.Error(), 1000))
		sc.RecordError(err)
		r.monitor.CaptureError(ctx, job.Type, err)
	}

	if saveErr := r.sink.Save(ctx, rep); saveErr != nil {
		// The execution already happened; losing the report must not turn
		// a successful run into a retried one.
		r.monitor.CaptureError(ctx, job.Type, saveErr)
	}
	if notifyErr := r.sink.NotifyOutcome(ctx, rep); notifyErr != nil {
		slog.WarnContext(ctx, "failed to notify execution outcome",
			"event", "runner.notify_failed",
			"error", notifyErr.Error(),
		)
	}

	if err != nil {
		slog.ErrorContext(ctx, "job finished with failure",
			"event", "runner.job_failed",
			"duration_ms", elapsed.Milliseconds(),
			"error_count", rep.ErrorCount,
			"error", err.Error(),
		)
	} else {
		slog.InfoContext(ctx, "job finished",
			"event", "runner.job_done",
			"duration_ms", elapsed.Milliseconds(),
			"error_count", rep.ErrorCount,
		)
	}

	return rep, err
}

func (r *Runner) safeHandle(ctx context.Context, handler Handler, job *model.JobRecord) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler.Handle(ctx, job)
}
