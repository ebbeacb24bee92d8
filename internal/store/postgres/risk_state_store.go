package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rkendall/bracketbot/internal/domain"
)

// RiskStateStore implements domain.RiskStateStore using PostgreSQL.
type RiskStateStore struct {
	pool *pgxpool.Pool
}

// NewRiskStateStore creates a new RiskStateStore backed by the given pool.
func NewRiskStateStore(pool *pgxpool.Pool) *RiskStateStore {
	return &RiskStateStore{pool: pool}
}

func scanRiskStateRow(row pgx.Row) (domain.RiskState, error) {
	var rs domain.RiskState
	var unhedgedSide *string

	err := row.Scan(
		&rs.Slug, &rs.LastEntryAt, &unhedgedSide,
		&rs.UnhedgedCost, &rs.UnhedgedSize, &rs.LossesInRow, &rs.UpdatedAt,
	)
	if err != nil {
		return domain.RiskState{}, err
	}
	if unhedgedSide != nil {
		s := domain.Side(*unhedgedSide)
		rs.UnhedgedSide = &s
	}
	return rs, nil
}

// Upsert writes the risk state for a slug, replacing any previous row.
func (s *RiskStateStore) Upsert(ctx context.Context, rs domain.RiskState) error {
	const query = `
		INSERT INTO risk_states (
			slug, last_entry_at, unhedged_side, unhedged_cost, unhedged_size,
			losses_in_row, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (slug) DO UPDATE SET
			last_entry_at = EXCLUDED.last_entry_at,
			unhedged_side = EXCLUDED.unhedged_side,
			unhedged_cost = EXCLUDED.unhedged_cost,
			unhedged_size = EXCLUDED.unhedged_size,
			losses_in_row = EXCLUDED.losses_in_row,
			updated_at    = NOW()`

	var unhedgedSide *string
	if rs.UnhedgedSide != nil {
		v := string(*rs.UnhedgedSide)
		unhedgedSide = &v
	}

	_, err := s.pool.Exec(ctx, query,
		rs.Slug, rs.LastEntryAt, unhedgedSide,
		rs.UnhedgedCost, rs.UnhedgedSize, rs.LossesInRow,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk state %s: %w", rs.Slug, err)
	}
	return nil
}

// Get returns the risk state for slug.
func (s *RiskStateStore) Get(ctx context.Context, slug string) (domain.RiskState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT slug, last_entry_at, unhedged_side, unhedged_cost, unhedged_size,
		        losses_in_row, updated_at
		 FROM risk_states WHERE slug = $1`, slug)

	rs, err := scanRiskStateRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskState{}, domain.ErrNotFound
		}
		return domain.RiskState{}, fmt.Errorf("postgres: get risk state %s: %w", slug, err)
	}
	return rs, nil
}

// Delete removes the risk state for slug. Deleting a missing slug is not an
// error.
func (s *RiskStateStore) Delete(ctx context.Context, slug string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM risk_states WHERE slug = $1", slug); err != nil {
		return fmt.Errorf("postgres: delete risk state %s: %w", slug, err)
	}
	return nil
}

// List returns all risk states ordered by most recent update.
func (s *RiskStateStore) List(ctx context.Context) ([]domain.RiskState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slug, last_entry_at, unhedged_side, unhedged_cost, unhedged_size,
		        losses_in_row, updated_at
		 FROM risk_states ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk states: %w", err)
	}
	defer rows.Close()

	var states []domain.RiskState
	for rows.Next() {
		rs, err := scanRiskStateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan risk state: %w", err)
		}
		states = append(states, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate risk states: %w", err)
	}
	return states, nil
}

var _ domain.RiskStateStore = (*RiskStateStore)(nil)
