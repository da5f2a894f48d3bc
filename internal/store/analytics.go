package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalyticsStore moves engagement events from the primary database into
// the analytics warehouse and maintains the derived tables there. The
// bulk transfer works in fixed-size windows so no batch ever holds the
// full dataset in memory.
type AnalyticsStore interface {
	EnsureSchema(ctx context.Context) error
	LastLoadedAt(ctx context.Context) (time.Time, error)
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
	CopyEventsBatch(ctx context.Context, since time.Time, limit, offset int64) (int64, error)
	EnrichEvents(ctx context.Context) (int64, error)
	RefreshViews(ctx context.Context) ([]string, error)
}

type analyticsStore struct {
	source *pgxpool.Pool
	target *pgxpool.Pool
}

func NewAnalyticsStore(source, target *pgxpool.Pool) AnalyticsStore {
	return &analyticsStore{source: source, target: target}
}

func (s *analyticsStore) EnsureSchema(ctx context.Context) error {
	_, err := s.target.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS engagement_event (
			id          bigint,
			occurred_at timestamptz,
			category    varchar(255),
			action      varchar(255),
			name        varchar(255),
			user_id     varchar(255),
			user_type   varchar(255),
			structure   varchar(255),
			week        date,
			day_of_week int
		)`)
	if err != nil {
		return fmt.Errorf("creating engagement_event table: %w", err)
	}

	_, err = s.target.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS engagement_event_occurred_at_idx ON engagement_event (occurred_at);
		CREATE INDEX IF NOT EXISTS engagement_event_category_idx ON engagement_event (category);
		CREATE INDEX IF NOT EXISTS engagement_event_user_id_idx ON engagement_event (user_id);
		CREATE INDEX IF NOT EXISTS engagement_event_structure_idx ON engagement_event (structure);
		CREATE INDEX IF NOT EXISTS engagement_event_week_idx ON engagement_event (week)`)
	if err != nil {
		return fmt.Errorf("creating engagement_event indexes: %w", err)
	}
	return nil
}

func (s *analyticsStore) LastLoadedAt(ctx context.Context) (time.Time, error) {
	var last *time.Time
	err := s.target.QueryRow(ctx,
		`SELECT MAX(occurred_at) FROM engagement_event`,
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last loaded event time: %w", err)
	}
	if last == nil {
		// Empty warehouse: load everything.
		return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return *last, nil
}

func (s *analyticsStore) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.source.QueryRow(ctx,
		`SELECT COUNT(*) FROM engagement_event WHERE occurred_at > $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting events to load: %w", err)
	}
	return count, nil
}

// The window order must be total for offset windows to partition the set:
// occurred_at alone admits ties, so id breaks them.
const copyEventsBatchQuery = `
	SELECT id, occurred_at, category, action, name, user_id, user_type, structure
	FROM engagement_event
	WHERE occurred_at > $1
	ORDER BY occurred_at ASC, id ASC
	LIMIT $2 OFFSET $3`

// CopyEventsBatch streams one offset/limit window from the source into the
// target.
func (s *analyticsStore) CopyEventsBatch(ctx context.Context, since time.Time, limit, offset int64) (int64, error) {
	rows, err := s.source.Query(ctx, copyEventsBatchQuery,
		since, limit, offset,
	)
	if err != nil {
		return 0, fmt.Errorf("reading source events: %w", err)
	}
	defer rows.Close()

	var batch [][]any
	for rows.Next() {
		var (
			id                          int64
			occurredAt                  time.Time
			category, action, name      *string
			userID, userType, structure *string
		)
		if err := rows.Scan(&id, &occurredAt, &category, &action, &name, &userID, &userType, &structure); err != nil {
			return 0, err
		}
		batch = append(batch, []any{id, occurredAt, category, action, name, userID, userType, structure})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading source events: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	copied, err := s.target.CopyFrom(ctx,
		pgx.Identifier{"engagement_event"},
		[]string{"id", "occurred_at", "category", "action", "name", "user_id", "user_type", "structure"},
		pgx.CopyFromRows(batch),
	)
	if err != nil {
		return 0, fmt.Errorf("copying events to warehouse: %w", err)
	}
	return copied, nil
}

func (s *analyticsStore) EnrichEvents(ctx context.Context) (int64, error) {
	tag, err := s.target.Exec(ctx, `
		UPDATE engagement_event
		SET week        = date_trunc('week', occurred_at)::date,
		    day_of_week = EXTRACT(isodow FROM occurred_at)
		WHERE week IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("enriching events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *analyticsStore) RefreshViews(ctx context.Context) ([]string, error) {
	views := []struct {
		name       string
		definition string
	}{
		{
			name: "engagement_weekly",
			definition: `
				SELECT week, structure, user_type, COUNT(DISTINCT user_id) AS active_users, COUNT(*) AS events
				FROM engagement_event
				GROUP BY week, structure, user_type`,
		},
		{
			name: "feature_usage_weekly",
			definition: `
				SELECT week, category, action, COUNT(*) AS uses, COUNT(DISTINCT user_id) AS users
				FROM engagement_event
				GROUP BY week, category, action`,
		},
	}

	refreshed := make([]string, 0, len(views))
	for _, v := range views {
		_, err := s.target.Exec(ctx, fmt.Sprintf(
			`CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS %s`, v.name, v.definition,
		))
		if err != nil {
			return refreshed, fmt.Errorf("creating view %s: %w", v.name, err)
		}
		if _, err := s.target.Exec(ctx, fmt.Sprintf(`REFRESH MATERIALIZED VIEW %s`, v.name)); err != nil {
			return refreshed, fmt.Errorf("refreshing view %s: %w", v.name, err)
		}
		refreshed = append(refreshed, v.name)
	}
	return refreshed, nil
}
