package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rkendall/bracketbot/internal/domain"
)

// BracketStore implements domain.BracketStore using PostgreSQL.
type BracketStore struct {
	pool *pgxpool.Pool
}

// NewBracketStore creates a new BracketStore backed by the given pool.
func NewBracketStore(pool *pgxpool.Pool) *BracketStore {
	return &BracketStore{pool: pool}
}

const bracketSelectCols = `id, slug, market_label, entry_side, entry_price, size_shares,
	total_cost, hedge_side, hedge_price, status, payout, realized_pnl,
	dry_run, opened_at, hedged_at, resolved_at`

func scanBracketRow(row pgx.Row) (domain.Bracket, error) {
	var b domain.Bracket
	var entrySide, status string
	var hedgeSide *string

	err := row.Scan(
		&b.ID, &b.Slug, &b.MarketLabel, &entrySide, &b.EntryPrice, &b.SizeShares,
		&b.TotalCost, &hedgeSide, &b.HedgePrice, &status, &b.Payout, &b.RealizedPnL,
		&b.DryRun, &b.OpenedAt, &b.HedgedAt, &b.ResolvedAt,
	)
	if err != nil {
		return domain.Bracket{}, err
	}
	b.EntrySide = domain.Side(entrySide)
	b.Status = domain.BracketStatus(status)
	if hedgeSide != nil {
		s := domain.Side(*hedgeSide)
		b.HedgeSide = &s
	}
	return b, nil
}

func scanBracketRows(rows pgx.Rows) ([]domain.Bracket, error) {
	var brackets []domain.Bracket
	for rows.Next() {
		b, err := scanBracketRow(rows)
		if err != nil {
			return nil, err
		}
		brackets = append(brackets, b)
	}
	return brackets, rows.Err()
}

func hedgeSideString(b domain.Bracket) *string {
	if b.HedgeSide == nil {
		return nil
	}
	s := string(*b.HedgeSide)
	return &s
}

// Create inserts a new bracket. The partial unique index on live slugs maps
// a second concurrent open for the same market to ErrDuplicateSlug.
func (s *BracketStore) Create(ctx context.Context, b domain.Bracket) error {
	const query = `
		INSERT INTO brackets (
			id, slug, market_label, entry_side, entry_price, size_shares,
			total_cost, hedge_side, hedge_price, status, payout, realized_pnl,
			dry_run, opened_at, hedged_at, resolved_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		b.ID, b.Slug, b.MarketLabel, string(b.EntrySide), b.EntryPrice, b.SizeShares,
		b.TotalCost, hedgeSideString(b), b.HedgePrice, string(b.Status), b.Payout, b.RealizedPnL,
		b.DryRun, b.OpenedAt, b.HedgedAt, b.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSlug
		}
		return fmt.Errorf("postgres: create bracket %s: %w", b.Slug, err)
	}
	return nil
}

// Transition replaces the mutable fields of b in a single compare-and-swap
// update guarded by the expected current status, so two concurrent
// transitions on the same id cannot both succeed.
func (s *BracketStore) Transition(ctx context.Context, b domain.Bracket, from domain.BracketStatus) error {
	const query = `
		UPDATE brackets SET
			total_cost   = $3,
			hedge_side   = $4,
			hedge_price  = $5,
			status       = $6,
			payout       = $7,
			realized_pnl = $8,
			hedged_at    = $9,
			resolved_at  = $10,
			updated_at   = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query,
		b.ID, string(from),
		b.TotalCost, hedgeSideString(b), b.HedgePrice, string(b.Status),
		b.Payout, b.RealizedPnL, b.HedgedAt, b.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: transition bracket %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a stale status.
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM brackets WHERE id = $1)", b.ID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("postgres: transition bracket %s: %w", b.ID, checkErr)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidState
	}
	return nil
}

// GetBySlug returns the live (OPEN or HEDGED) bracket for slug, if any.
func (s *BracketStore) GetBySlug(ctx context.Context, slug string) (domain.Bracket, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bracketSelectCols+` FROM brackets
		 WHERE slug = $1 AND status IN ('OPEN', 'HEDGED')
		 ORDER BY opened_at DESC LIMIT 1`, slug)

	b, err := scanBracketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bracket{}, domain.ErrNotFound
		}
		return domain.Bracket{}, fmt.Errorf("postgres: get bracket by slug %s: %w", slug, err)
	}
	return b, nil
}

// GetByID retrieves a single bracket by its ID.
func (s *BracketStore) GetByID(ctx context.Context, id string) (domain.Bracket, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bracketSelectCols+` FROM brackets WHERE id = $1`, id)

	b, err := scanBracketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bracket{}, domain.ErrNotFound
		}
		return domain.Bracket{}, fmt.Errorf("postgres: get bracket %s: %w", id, err)
	}
	return b, nil
}

// ListOpen returns all OPEN or HEDGED brackets, newest first.
func (s *BracketStore) ListOpen(ctx context.Context) ([]domain.Bracket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bracketSelectCols+` FROM brackets
		 WHERE status IN ('OPEN', 'HEDGED')
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open brackets: %w", err)
	}
	defer rows.Close()

	brackets, err := scanBracketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open brackets: %w", err)
	}
	return brackets, nil
}

// ListSettled returns terminal brackets ordered by resolution time, newest
// first, capped at limit.
func (s *BracketStore) ListSettled(ctx context.Context, limit int) ([]domain.Bracket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bracketSelectCols+` FROM brackets
		 WHERE status IN ('RESOLVED', 'FLATTENED')
		 ORDER BY resolved_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled brackets: %w", err)
	}
	defer rows.Close()

	brackets, err := scanBracketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled brackets: %w", err)
	}
	return brackets, nil
}

// ListSettledBetween returns terminal brackets resolved in [from, to).
func (s *BracketStore) ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Bracket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bracketSelectCols+` FROM brackets
		 WHERE status IN ('RESOLVED', 'FLATTENED')
		   AND resolved_at >= $1 AND resolved_at < $2
		 ORDER BY resolved_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled between: %w", err)
	}
	defer rows.Close()

	brackets, err := scanBracketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled between: %w", err)
	}
	return brackets, nil
}

// DayTotals aggregates brackets whose opened_at falls on the UTC calendar day
// containing day.
func (s *BracketStore) DayTotals(ctx context.Context, day time.Time) (domain.StatsBucket, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COUNT(*) FILTER (WHERE realized_pnl < 0),
			COALESCE(SUM(total_cost), 0),
			COALESCE(SUM(realized_pnl), 0)
		FROM brackets
		WHERE opened_at >= $1 AND opened_at < $2`

	var bucket domain.StatsBucket
	err := s.pool.QueryRow(ctx, query, start, end).Scan(
		&bucket.Trades, &bucket.Wins, &bucket.Losses, &bucket.TotalCost, &bucket.RealizedPnL,
	)
	if err != nil {
		return domain.StatsBucket{}, fmt.Errorf("postgres: day totals: %w", err)
	}
	return bucket, nil
}

// LifetimeTotals aggregates all brackets ever recorded.
func (s *BracketStore) LifetimeTotals(ctx context.Context) (domain.StatsBucket, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COUNT(*) FILTER (WHERE realized_pnl < 0),
			COALESCE(SUM(total_cost), 0),
			COALESCE(SUM(realized_pnl), 0)
		FROM brackets`

	var bucket domain.StatsBucket
	err := s.pool.QueryRow(ctx, query).Scan(
		&bucket.Trades, &bucket.Wins, &bucket.Losses, &bucket.TotalCost, &bucket.RealizedPnL,
	)
	if err != nil {
		return domain.StatsBucket{}, fmt.Errorf("postgres: lifetime totals: %w", err)
	}
	return bucket, nil
}

// Compile-time interface check.
var _ domain.BracketStore = (*BracketStore)(nil)
