package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/vigia-news/vigia/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const runColumns = `id, public_id, kind, status, last_error, created_at, started_at, finished_at`

func scanRun(row interface{ Scan(dest ...any) error }) (store.Run, error) {
	var r store.Run
	err := row.Scan(&r.ID, &r.PublicID, &r.Kind, &r.Status, &r.LastError, &r.CreatedAt, &r.StartedAt, &r.DoneAt)
	return r, err
}

// CreateRun enqueues a new background run record in the pending state.
func (s *EntityDBStorage) CreateRun(ctx context.Context, kind string) (store.Run, error) {
	if kind != store.RunKindResolve && kind != store.RunKindRank {
		return store.Run{}, fmt.Errorf("unknown run kind %q", kind)
	}

	publicID, err := gonanoid.New()
	if err != nil {
		return store.Run{}, err
	}

	row := s.conn.QueryRow(ctx, `
		INSERT INTO runs (public_id, kind, status)
		VALUES ($1, $2, $3)
		RETURNING `+runColumns,
		publicID, kind, store.RunStatusPending)
	return scanRun(row)
}

func (s *EntityDBStorage) GetRunByPublicID(ctx context.Context, publicID string) (store.Run, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE public_id = $1`, publicID)
	return scanRun(row)
}

// MarkRunRunning transitions a pending (or requeued) run to running.
func (s *EntityDBStorage) MarkRunRunning(ctx context.Context, publicID string) error {
	return s.setRunStatus(ctx, publicID, store.RunStatusRunning,
		`UPDATE runs SET status = $2, started_at = now() WHERE public_id = $1`)
}

func (s *EntityDBStorage) MarkRunCompleted(ctx context.Context, publicID string) error {
	return s.setRunStatus(ctx, publicID, store.RunStatusCompleted,
		`UPDATE runs SET status = $2, finished_at = now() WHERE public_id = $1`)
}

func (s *EntityDBStorage) MarkRunFailed(ctx context.Context, publicID string, lastError string) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE runs SET status = $2, last_error = $3, finished_at = now() WHERE public_id = $1`,
		publicID, store.RunStatusFailed, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", publicID)
	}
	return nil
}

func (s *EntityDBStorage) setRunStatus(ctx context.Context, publicID, status, query string) error {
	tag, err := s.conn.Exec(ctx, query, publicID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", publicID)
	}
	return nil
}

// RequeueRun puts a stuck run back into the pending state so a worker can
// pick it up again.
func (s *EntityDBStorage) RequeueRun(ctx context.Context, publicID string) error {
	return s.setRunStatus(ctx, publicID, store.RunStatusPending,
		`UPDATE runs SET status = $2, started_at = NULL WHERE public_id = $1`)
}

// ListStuckRuns returns runs still marked running whose start predates the
// cutoff. Workers requeue these at startup after a crash.
func (s *EntityDBStorage) ListStuckRuns(ctx context.Context, olderThan time.Duration) ([]store.Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE status = $1 AND started_at < now() - $2::interval
		ORDER BY started_at`,
		store.RunStatusRunning, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
