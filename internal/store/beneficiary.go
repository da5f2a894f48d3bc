package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// BeneficiaryStore reads the beneficiaries a notification batch targets.
// Pages are ordered by ascending primary key so a continuation chain never
// skips or repeats a row, even while new beneficiaries are inserted above
// the cursor.
type BeneficiaryStore interface {
	ListWithPushTokens(ctx context.Context, structures []string, limit, offset int) ([]model.Beneficiary, error)
	// GetPushToken returns ErrNotFound when the beneficiary does not exist
	// or has no registered device.
	GetPushToken(ctx context.Context, beneficiaryID string) (string, error)
}

type beneficiaryStore struct {
	pool *pgxpool.Pool
}

func NewBeneficiaryStore(pool *pgxpool.Pool) BeneficiaryStore {
	return &beneficiaryStore{pool: pool}
}

func (s *beneficiaryStore) ListWithPushTokens(ctx context.Context, structures []string, limit, offset int) ([]model.Beneficiary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, push_token, structure
		FROM beneficiary
		WHERE structure = ANY($1) AND push_token IS NOT NULL
		ORDER BY id ASC
		LIMIT $2 OFFSET $3`,
		structures, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing beneficiaries: %w", err)
	}
	defer rows.Close()

	var beneficiaries []model.Beneficiary
	for rows.Next() {
		var b model.Beneficiary
		if err := rows.Scan(&b.ID, &b.PushToken, &b.Structure); err != nil {
			return nil, err
		}
		beneficiaries = append(beneficiaries, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading beneficiaries: %w", err)
	}
	return beneficiaries, nil
}

func (s *beneficiaryStore) GetPushToken(ctx context.Context, beneficiaryID string) (string, error) {
	var token *string
	err := s.pool.QueryRow(ctx, `
		SELECT push_token FROM beneficiary WHERE id = $1`,
		beneficiaryID,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading push token: %w", err)
	}
	if token == nil || *token == "" {
		return "", ErrNotFound
	}
	return *token, nil
}
