package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
)

// activityPageSize bounds a single archival query against the activity log.
const activityPageSize = 5000

// Archiver uploads each completed UTC day's settled brackets and activity
// records as JSONL files. Archives are write-only from this process; the
// primary store keeps its copies, so a lost upload is re-runnable.
type Archiver struct {
	writer   *Writer
	brackets domain.BracketStore
	activity domain.ActivityStore
	logger   *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, brackets domain.BracketStore, activity domain.ActivityStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		brackets: brackets,
		activity: activity,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay uploads the settled brackets and activity for the UTC day
// containing day. It returns the number of records uploaded.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	var total int64

	brackets, err := a.brackets.ListSettledBetween(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive brackets query: %w", err)
	}
	if len(brackets) > 0 {
		buf, err := marshalJSONL(brackets)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive brackets marshal: %w", err)
		}
		path := archivePath("brackets", start)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive brackets upload: %w", err)
		}
		total += int64(len(brackets))
	}

	records, err := a.activity.Query(ctx, domain.ActivityFilter{
		Since: &start,
		Until: &end,
		Limit: activityPageSize,
	})
	if err != nil {
		return total, fmt.Errorf("s3blob: archive activity query: %w", err)
	}
	if len(records) > 0 {
		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive activity marshal: %w", err)
		}
		path := archivePath("activity", start)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive activity upload: %w", err)
		}
		total += int64(len(records))
	}

	a.logger.InfoContext(ctx, "day archived",
		slog.String("day", start.Format("2006-01-02")),
		slog.Int("brackets", len(brackets)),
		slog.Int("activity", len(records)),
	)
	return total, nil
}

// Run archives the previous UTC day once at startup and then again shortly
// after every midnight until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started")
	defer a.logger.Info("archiver stopped")

	archivePrevious := func() {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if _, err := a.ArchiveDay(ctx, day); err != nil {
			a.logger.ErrorContext(ctx, "archive failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		}
	}

	archivePrevious()
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, time.UTC).AddDate(0, 0, 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(now)):
			archivePrevious()
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by UTC day.
//
//	archive/brackets/2026-03-14.jsonl
//	archive/activity/2026-03-14.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
