package store

import (
	"context"
	"errors"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ScheduledJobStore is the relational backend for deferred job records.
// Create never rejects duplicates by itself; uniqueness is the scheduling
// service's responsibility.
type ScheduledJobStore interface {
	Create(ctx context.Context, rec *model.JobRecord) error
	GetByID(ctx context.Context, id int64) (*model.JobRecord, error)
	// ExistsPending reports whether a record with the given type and
	// idempotency key is still waiting to be picked up.
	ExistsPending(ctx context.Context, jobType model.JobType, key string) (bool, error)
	// ClaimDue atomically claims up to limit records whose due time has
	// passed. Claimed records are invisible to other workers until deleted.
	ClaimDue(ctx context.Context, now time.Time, limit int32) ([]model.JobRecord, error)
	Delete(ctx context.Context, id int64) error
	// DeletePastDue garbage-collects unclaimed records whose due time
	// predates the cutoff, returning what was removed for audit purposes.
	DeletePastDue(ctx context.Context, cutoff time.Time) (int64, []model.JobRecord, error)
}

// ReportStore persists execution reports.
type ReportStore interface {
	Save(ctx context.Context, report *model.ExecutionReport) error
	ListSince(ctx context.Context, since time.Time) ([]model.ExecutionReport, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InFlightTracker is the best-effort "is a job of this type currently
// executing" marker used by singleton jobs. It is a point-in-time
// heuristic, not a lease: a killed worker leaves the marker set until an
// operator clears it.
type InFlightTracker interface {
	MarkInFlight(ctx context.Context, jobType model.JobType) error
	ClearInFlight(ctx context.Context, jobType model.JobType) error
	IsInFlight(ctx context.Context, jobType model.JobType) (bool, error)
}
