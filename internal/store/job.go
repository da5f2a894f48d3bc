package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

type scheduledJobStore struct {
	pool *pgxpool.Pool
}

func NewScheduledJobStore(pool *pgxpool.Pool) ScheduledJobStore {
	return &scheduledJobStore{pool: pool}
}

func (s *scheduledJobStore) Create(ctx context.Context, rec *model.JobRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_job (id, job_type, idempotency_key, due_at, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Type, rec.Key, rec.DueAt, rec.Payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting scheduled job: %w", err)
	}
	return nil
}

func (s *scheduledJobStore) GetByID(ctx context.Context, id int64) (*model.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_type, idempotency_key, due_at, payload, created_at, claimed_at
		FROM scheduled_job
		WHERE id = $1`,
		id,
	)
	rec, err := scanJobRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *scheduledJobStore) ExistsPending(ctx context.Context, jobType model.JobType, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM scheduled_job
			WHERE job_type = $1 AND idempotency_key = $2 AND claimed_at IS NULL
		)`,
		jobType, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking pending job: %w", err)
	}
	return exists, nil
}

// ClaimDue relies on FOR UPDATE SKIP LOCKED so multiple workers polling
// the same table never claim the same record.
func (s *scheduledJobStore) ClaimDue(ctx context.Context, now time.Time, limit int32) ([]model.JobRecord, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scheduled_job
		SET claimed_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_job
			WHERE due_at <= $1 AND claimed_at IS NULL
			ORDER BY due_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, idempotency_key, due_at, payload, created_at, claimed_at`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming due jobs: %w", err)
	}
	defer rows.Close()

	var records []model.JobRecord
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading claimed jobs: %w", err)
	}
	return records, nil
}

func (s *scheduledJobStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_job WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting scheduled job: %w", err)
	}
	return nil
}

func (s *scheduledJobStore) DeletePastDue(ctx context.Context, cutoff time.Time) (int64, []model.JobRecord, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM scheduled_job
		WHERE due_at < $1 AND claimed_at IS NULL
		RETURNING id, job_type, idempotency_key, due_at, payload, created_at, claimed_at`,
		cutoff,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("deleting past-due jobs: %w", err)
	}
	defer rows.Close()

	var removed []model.JobRecord
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return 0, nil, err
		}
		removed = append(removed, *rec)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("reading deleted jobs: %w", err)
	}
	return int64(len(removed)), removed, nil
}

func scanJobRecord(row pgx.Row) (*model.JobRecord, error) {
	var rec model.JobRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.Key,
		&rec.DueAt,
		&rec.Payload,
		&rec.CreatedAt,
		&rec.ClaimedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
