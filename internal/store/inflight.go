package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

const inFlightKeyPrefix = "jobs:inflight:"

// redisInFlightTracker marks executing job types with a plain Redis key.
// The marker has no expiry on purpose: it is a point-in-time heuristic for
// singleton jobs, not a distributed lock. A worker killed mid-execution
// leaves the marker set; an operator clears it and re-triggers.
type redisInFlightTracker struct {
	client *redis.Client
}

func NewInFlightTracker(client *redis.Client) InFlightTracker {
	return &redisInFlightTracker{client: client}
}

func (t *redisInFlightTracker) MarkInFlight(ctx context.Context, jobType model.JobType) error {
	if err := t.client.Set(ctx, inFlightKey(jobType), "1", 0).Err(); err != nil {
		return fmt.Errorf("marking %s in flight: %w", jobType, err)
	}
	return nil
}

func (t *redisInFlightTracker) ClearInFlight(ctx context.Context, jobType model.JobType) error {
	if err := t.client.Del(ctx, inFlightKey(jobType)).Err(); err != nil {
		return fmt.Errorf("clearing %s in flight: %w", jobType, err)
	}
	return nil
}

func (t *redisInFlightTracker) IsInFlight(ctx context.Context, jobType model.JobType) (bool, error) {
	n, err := t.client.Exists(ctx, inFlightKey(jobType)).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s in flight: %w", jobType, err)
	}
	return n > 0, nil
}

func inFlightKey(jobType model.JobType) string {
	return inFlightKeyPrefix + string(jobType)
}
