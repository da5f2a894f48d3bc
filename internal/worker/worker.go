package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/common/logger"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/queue"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// Executor runs one job record and persists its execution report.
// Mirrors runner.Runner - defined here to avoid import cycles.
type Executor interface {
	Execute(ctx context.Context, job *model.JobRecord) (*model.ExecutionReport, error)
}

type Config struct {
	MaxAttempts int
	ClaimBatch  int32
}

// Worker drives both delivery paths: stream messages for immediate jobs and
// claimed relational records for deferred ones. Stream messages retry up to
// MaxAttempts then go to the DLQ; claimed records run once and are deleted
// whatever the outcome, their failure lives in the execution report.
type Worker struct {
	consumer queue.Consumer
	jobs     store.ScheduledJobStore
	executor Executor
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer queue.Consumer, jobs store.ScheduledJobStore, executor Executor, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		jobs:      jobs,
		executor:  executor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			// The stream read blocks for its configured window, which also
			// paces the due-record poll below.
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
			if err := w.runDueRecords(ctx); err != nil {
				slog.ErrorContext(ctx, "due record processing error", "error", err)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.ProcessMessage(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"job_id", msg.Job.ID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

// ProcessMessage executes one stream-delivered job. Exported so it can be
// reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	jobType := string(msg.Job.Type)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msg.ID,
		JobID:     &msg.Job.ID,
		JobType:   &jobType,
		Component: "jobs.worker",
	})

	slog.InfoContext(ctx, "processing message", "attempt", msg.Attempt)

	if _, err := w.executor.Execute(ctx, &msg.Job); err != nil {
		return err
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - the message will be reclaimed, and the
		// handler's idempotency makes the rerun safe.
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"job_id", msg.Job.ID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"job_id", msg.Job.ID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

// runDueRecords claims deferred records whose due time has passed and runs
// them. A claimed record is deleted after execution no matter what: the
// execution report already captured any failure, and replaying a deferred
// record automatically would break the at-most-one-pending guarantee for
// keyed jobs.
func (w *Worker) runDueRecords(ctx context.Context) error {
	records, err := w.jobs.ClaimDue(ctx, time.Now(), w.cfg.ClaimBatch)
	if err != nil {
		return fmt.Errorf("claiming due records: %w", err)
	}

	for i := range records {
		rec := &records[i]
		jobType := string(rec.Type)
		recCtx := logger.WithLogFields(ctx, logger.LogFields{
			JobID:     &rec.ID,
			JobType:   &jobType,
			Component: "jobs.worker",
		})

		if _, err := w.executor.Execute(recCtx, rec); err != nil {
			slog.ErrorContext(recCtx, "due record execution failed", "error", err)
		}

		if err := w.jobs.Delete(recCtx, rec.ID); err != nil {
			slog.ErrorContext(recCtx, "failed to delete executed record", "error", err)
		}
	}

	return nil
}
