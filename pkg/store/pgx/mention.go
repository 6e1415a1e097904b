package pgx

import (
	"context"
	"fmt"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/logger"
	"github.com/vigia-news/vigia/pkg/store"
)

// SaveContentUnit upserts one content unit and replaces its mention rows.
// Re-ingesting the same article is idempotent: the old mentions are
// dropped and rewritten from the new extraction.
func (s *EntityDBStorage) SaveContentUnit(ctx context.Context, unit store.ContentUnit, mentions []common.Mention) (int64, error) {
	if unit.PublicID == "" {
		return 0, fmt.Errorf("content unit public_id is empty")
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var unitID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO content_units (public_id, title, published_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (public_id) DO UPDATE SET
			title = EXCLUDED.title,
			published_at = EXCLUDED.published_at
		RETURNING id`,
		unit.PublicID, unit.Title, unit.PublishedAt).Scan(&unitID)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM mentions WHERE content_unit_id = $1`, unitID); err != nil {
		return 0, err
	}

	for _, m := range mentions {
		count := m.Count
		if count < 1 {
			count = 1
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO mentions (content_unit_id, entity_id, mention_count, sentences)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (content_unit_id, entity_id) DO UPDATE SET
				mention_count = mentions.mention_count + EXCLUDED.mention_count,
				sentences = mentions.sentences || EXCLUDED.sentences`,
			unitID, m.EntityID, count, m.Sentences); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	logger.Debug("[Store][SaveContentUnit] Saved unit", "unit", unit.PublicID, "mentions", len(mentions))
	return unitID, nil
}

// LoadMentions returns every mention row for building the co-occurrence
// graph.
func (s *EntityDBStorage) LoadMentions(ctx context.Context) ([]common.Mention, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT content_unit_id, entity_id, mention_count, sentences
		FROM mentions
		ORDER BY content_unit_id, entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentions []common.Mention
	for rows.Next() {
		var m common.Mention
		if err := rows.Scan(&m.ContentUnitID, &m.EntityID, &m.Count, &m.Sentences); err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// CoMentioned reports whether two entities appear together in at least one
// content unit.
func (s *EntityDBStorage) CoMentioned(ctx context.Context, a, b int64) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM mentions ma
			JOIN mentions mb ON ma.content_unit_id = mb.content_unit_id
			WHERE ma.entity_id = $1 AND mb.entity_id = $2
		)`, a, b).Scan(&exists)
	return exists, err
}

// CoOccurrenceCount returns how many content units mention both entities.
func (s *EntityDBStorage) CoOccurrenceCount(ctx context.Context, a, b int64) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, `
		SELECT count(*)
		FROM mentions ma
		JOIN mentions mb ON ma.content_unit_id = mb.content_unit_id
		WHERE ma.entity_id = $1 AND mb.entity_id = $2`, a, b).Scan(&count)
	return count, err
}

// ContextSentences returns up to limit mention sentences for an entity,
// most recent content units first.
func (s *EntityDBStorage) ContextSentences(ctx context.Context, entityID int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.conn.Query(ctx, `
		SELECT sentence
		FROM mentions m
		JOIN content_units cu ON cu.id = m.content_unit_id
		CROSS JOIN LATERAL unnest(m.sentences) AS sentence
		WHERE m.entity_id = $1 AND sentence <> ''
		ORDER BY cu.published_at DESC NULLS LAST, cu.id DESC
		LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sentences []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sentences = append(sentences, s)
	}
	return sentences, rows.Err()
}
