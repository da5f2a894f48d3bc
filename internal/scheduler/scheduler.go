package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/common/id"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/queue"
	"github.com/SocialGouv/pass-emploi-api-sub007/internal/store"
)

// Service routes new job records to the right backend: records due now go
// straight onto the stream, deferred ones wait in the relational store until
// the worker claims them. Keyed records always go through the store so the
// pending-key check stays authoritative.
type Service struct {
	jobs     store.ScheduledJobStore
	producer queue.Producer
	now      func() time.Time
}

func New(jobs store.ScheduledJobStore, producer queue.Producer) *Service {
	return &Service{
		jobs:     jobs,
		producer: producer,
		now:      time.Now,
	}
}

// ScheduleJob enqueues one execution of jobType at dueAt. A zero or past
// dueAt means immediate delivery.
func (s *Service) ScheduleJob(ctx context.Context, jobType model.JobType, payload any, dueAt time.Time) error {
	record, err := s.newRecord(jobType, nil, payload, dueAt)
	if err != nil {
		return err
	}

	if !record.DueAt.After(s.now()) {
		if err := s.producer.Enqueue(ctx, record); err != nil {
			return fmt.Errorf("enqueueing job %s: %w", jobType, err)
		}
	} else {
		if err := s.jobs.Create(ctx, record); err != nil {
			return fmt.Errorf("storing deferred job %s: %w", jobType, err)
		}
	}

	slog.InfoContext(ctx, "job scheduled",
		"event", "scheduler.job_scheduled",
		"job_id", record.ID,
		"job_type", string(jobType),
		"due_at", record.DueAt.Format(time.RFC3339),
	)
	return nil
}

// ScheduleOnce enqueues at most one pending execution per (jobType, key).
// It reports whether a new record was created; false means a record with the
// same key is already waiting. The check-then-create window is not atomic,
// which is acceptable because handlers are idempotent.
func (s *Service) ScheduleOnce(ctx context.Context, jobType model.JobType, key string, payload any, dueAt time.Time) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("scheduling %s: idempotency key must not be empty", jobType)
	}

	exists, err := s.jobs.ExistsPending(ctx, jobType, key)
	if err != nil {
		return false, fmt.Errorf("checking pending key for %s: %w", jobType, err)
	}
	if exists {
		slog.DebugContext(ctx, "job already pending, skipping",
			"event", "scheduler.duplicate_skipped",
			"job_type", string(jobType),
			"key", key,
		)
		return false, nil
	}

	record, err := s.newRecord(jobType, &key, payload, dueAt)
	if err != nil {
		return false, err
	}
	if err := s.jobs.Create(ctx, record); err != nil {
		return false, fmt.Errorf("storing keyed job %s: %w", jobType, err)
	}

	slog.InfoContext(ctx, "job scheduled",
		"event", "scheduler.job_scheduled",
		"job_id", record.ID,
		"job_type", string(jobType),
		"key", key,
		"due_at", record.DueAt.Format(time.RFC3339),
	)
	return true, nil
}

func (s *Service) newRecord(jobType model.JobType, key *string, payload any, dueAt time.Time) (*model.JobRecord, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload for %s: %w", jobType, err)
		}
		raw = encoded
	}

	now := s.now()
	if dueAt.IsZero() {
		dueAt = now
	}
	return &model.JobRecord{
		ID:        id.New(),
		Type:      jobType,
		Key:       key,
		DueAt:     dueAt.UTC(),
		Payload:   raw,
		CreatedAt: now.UTC(),
	}, nil
}
