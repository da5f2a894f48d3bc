package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

type reportStore struct {
	pool *pgxpool.Pool
}

func NewReportStore(pool *pgxpool.Pool) ReportStore {
	return &reportStore{pool: pool}
}

func (s *reportStore) Save(ctx context.Context, report *model.ExecutionReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_report
			(id, job_type, executed_at, succeeded, error_count, duration_ms, result, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		report.ID,
		report.JobType,
		report.ExecutedAt,
		report.Succeeded,
		report.ErrorCount,
		report.DurationMS,
		report.Result,
		report.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting execution report: %w", err)
	}
	return nil
}

func (s *reportStore) ListSince(ctx context.Context, since time.Time) ([]model.ExecutionReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_type, executed_at, succeeded, error_count, duration_ms, result, error_message
		FROM execution_report
		WHERE executed_at >= $1
		ORDER BY executed_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("listing execution reports: %w", err)
	}
	defer rows.Close()

	var reports []model.ExecutionReport
	for rows.Next() {
		var r model.ExecutionReport
		if err := rows.Scan(
			&r.ID,
			&r.JobType,
			&r.ExecutedAt,
			&r.Succeeded,
			&r.ErrorCount,
			&r.DurationMS,
			&r.Result,
			&r.ErrorMessage,
		); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading execution reports: %w", err)
	}
	return reports, nil
}

func (s *reportStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_report WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old execution reports: %w", err)
	}
	return tag.RowsAffected(), nil
}
