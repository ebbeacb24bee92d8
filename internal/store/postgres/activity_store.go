package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rkendall/bracketbot/internal/domain"
)

// ActivityStore implements domain.ActivityStore using PostgreSQL. Records are
// append-only; nothing ever updates or deletes a row.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new ActivityStore backed by the given pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Append inserts a single activity record and fills in its assigned ID.
func (s *ActivityStore) Append(ctx context.Context, rec *domain.ActivityRecord) error {
	const query = `
		INSERT INTO activity_log (
			ts, slug, market_label, action, side,
			size_usdc, price, edge_cents, dry_run, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		rec.Timestamp, rec.Slug, rec.MarketLabel, rec.Action, rec.Side,
		rec.SizeUSDC, rec.Price, rec.EdgeCents, rec.DryRun, rec.Result,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("postgres: append activity %s/%s: %w", rec.Action, rec.Slug, err)
	}
	return nil
}

// Query returns activity records matching the filter, newest first.
func (s *ActivityStore) Query(ctx context.Context, f domain.ActivityFilter) ([]domain.ActivityRecord, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, ts, slug, market_label, action, side,
		size_usdc, price, edge_cents, dry_run, result
		FROM activity_log WHERE 1=1`)

	args := []any{}
	argIdx := 1

	if f.Slug != "" {
		sb.WriteString(fmt.Sprintf(" AND slug = $%d", argIdx))
		args = append(args, f.Slug)
		argIdx++
	}
	if f.Action != "" {
		sb.WriteString(fmt.Sprintf(" AND action = $%d", argIdx))
		args = append(args, f.Action)
		argIdx++
	}
	if f.Since != nil {
		sb.WriteString(fmt.Sprintf(" AND ts >= $%d", argIdx))
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		sb.WriteString(fmt.Sprintf(" AND ts < $%d", argIdx))
		args = append(args, *f.Until)
		argIdx++
	}

	sb.WriteString(" ORDER BY ts DESC, id DESC")

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", argIdx))
	args = append(args, limit)
	argIdx++

	if f.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", argIdx))
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query activity: %w", err)
	}
	defer rows.Close()

	var records []domain.ActivityRecord
	for rows.Next() {
		var rec domain.ActivityRecord
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Slug, &rec.MarketLabel, &rec.Action, &rec.Side,
			&rec.SizeUSDC, &rec.Price, &rec.EdgeCents, &rec.DryRun, &rec.Result,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan activity record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate activity records: %w", err)
	}
	return records, nil
}

var _ domain.ActivityStore = (*ActivityStore)(nil)
