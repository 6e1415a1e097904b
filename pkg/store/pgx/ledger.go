package pgx

import (
	"context"
	"time"

	"github.com/vigia-news/vigia/pkg/common"
)

// Seen reports whether the unordered pair already has a ledger row.
func (s *EntityDBStorage) Seen(ctx context.Context, a, b int64) (bool, error) {
	a, b = common.PairKey(a, b)
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM entity_pairs WHERE entity_a = $1 AND entity_b = $2)`,
		a, b).Scan(&exists)
	return exists, err
}

// Record appends one pair comparison to the ledger. The ledger is
// append-only: a pair that already has a row keeps its original verdict,
// so concurrent sweeps racing on the same pair stay idempotent.
func (s *EntityDBStorage) Record(ctx context.Context, comparison common.PairComparison) error {
	a, b := common.PairKey(comparison.EntityA, comparison.EntityB)
	comparedAt := comparison.ComparedAt
	if comparedAt.IsZero() {
		comparedAt = time.Now().UTC()
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO entity_pairs (entity_a, entity_b, relationship, confidence, reasoning, method, compared_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entity_a, entity_b) DO NOTHING`,
		a, b, string(comparison.Relationship), comparison.Confidence,
		comparison.Reasoning, string(comparison.Method), comparedAt)
	return err
}

// ListComparisons returns the ledger rows touching one entity, newest
// first.
func (s *EntityDBStorage) ListComparisons(ctx context.Context, entityID int64, limit int) ([]common.PairComparison, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.Query(ctx, `
		SELECT entity_a, entity_b, relationship, confidence, reasoning, method, compared_at
		FROM entity_pairs
		WHERE entity_a = $1 OR entity_b = $1
		ORDER BY compared_at DESC
		LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comparisons []common.PairComparison
	for rows.Next() {
		var (
			c            common.PairComparison
			relationship string
			method       string
		)
		if err := rows.Scan(&c.EntityA, &c.EntityB, &relationship, &c.Confidence, &c.Reasoning, &method, &c.ComparedAt); err != nil {
			return nil, err
		}
		c.Relationship = common.PairRelationship(relationship)
		c.Method = common.ReviewMethod(method)
		comparisons = append(comparisons, c)
	}
	return comparisons, rows.Err()
}
