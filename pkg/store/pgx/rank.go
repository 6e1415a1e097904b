package pgx

import (
	"context"

	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/store"
)

// SaveRankResult writes one ranking pass atomically: the run record plus
// every entity's raw score and normalized relevance.
func (s *EntityDBStorage) SaveRankResult(ctx context.Context, run store.RankRun, raw, relevance map[int64]float64) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO rank_runs (outcome, iterations, delta, entity_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.Outcome, run.Iterations, run.Delta, len(raw), run.StartedAt, run.FinishedAt); err != nil {
		return err
	}

	if len(raw) > 0 {
		ids := make([]int64, 0, len(raw))
		raws := make([]float64, 0, len(raw))
		relevances := make([]float64, 0, len(raw))
		for id, score := range raw {
			ids = append(ids, id)
			raws = append(raws, score)
			relevances = append(relevances, relevance[id])
		}

		if _, err := tx.Exec(ctx, `
			UPDATE entities e SET
				pagerank_raw = u.raw,
				global_relevance = u.relevance,
				updated_at = now()
			FROM (
				SELECT unnest($1::bigint[]) AS id,
				       unnest($2::float8[]) AS raw,
				       unnest($3::float8[]) AS relevance
			) u
			WHERE e.id = u.id`,
			ids, raws, relevances); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info("[Store][SaveRankResult] Ranking persisted",
		"outcome", run.Outcome, "iterations", run.Iterations, "entities", len(raw))
	return nil
}

// LoadRelevancePrior returns the previous raw scores for warm-starting the
// next ranking pass. Entities never ranked are absent from the map.
func (s *EntityDBStorage) LoadRelevancePrior(ctx context.Context) (map[int64]float64, error) {
	rows, err := s.conn.Query(ctx, `SELECT id, pagerank_raw FROM entities WHERE pagerank_raw > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prior := make(map[int64]float64)
	for rows.Next() {
		var (
			id    int64
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		prior[id] = score
	}
	return prior, rows.Err()
}

// ListRankRuns returns ranking history, newest first.
func (s *EntityDBStorage) ListRankRuns(ctx context.Context, limit int) ([]store.RankRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, outcome, iterations, delta, entity_count, started_at, finished_at
		FROM rank_runs
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.RankRun
	for rows.Next() {
		var r store.RankRun
		if err := rows.Scan(&r.ID, &r.Outcome, &r.Iterations, &r.Delta, &r.EntityCount, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
