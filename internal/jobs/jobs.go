// Package jobs holds one handler per job type. Handlers report per-item
// failures through the outcome error count and reserve returned errors for
// conditions that invalidate the whole execution.
package jobs

import (
	"context"
	"time"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// JobScheduler is the slice of the scheduling service handlers use to chain
// follow-up work.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, jobType model.JobType, payload any, dueAt time.Time) error
	ScheduleOnce(ctx context.Context, jobType model.JobType, key string, payload any, dueAt time.Time) (bool, error)
}

// PartnerEventApplier performs the domain effect of one partner event.
type PartnerEventApplier interface {
	Apply(ctx context.Context, ev model.PartnerEvent) error
}
