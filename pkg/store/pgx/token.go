package pgx

import (
	"context"

	"github.com/vigia-news/vigia/pkg/common"
)

// ReplaceEntityTokens swaps out an entity's token inventory. Tokens are
// regenerated wholesale on every rename, so the old rows are dropped
// first inside the same transaction.
func (s *EntityDBStorage) ReplaceEntityTokens(ctx context.Context, entityID int64, tokens []common.Token) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM entity_tokens WHERE entity_id = $1`, entityID); err != nil {
		return err
	}

	if len(tokens) > 0 {
		texts := make([]string, 0, len(tokens))
		normalized := make([]string, 0, len(tokens))
		positions := make([]int32, 0, len(tokens))
		stopwords := make([]bool, 0, len(tokens))
		initials := make([]bool, 0, len(tokens))
		for _, t := range tokens {
			texts = append(texts, t.Text)
			normalized = append(normalized, t.TextNormalized)
			positions = append(positions, int32(t.Position))
			stopwords = append(stopwords, t.IsStopword)
			initials = append(initials, t.LooksLikeInitials)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_tokens (entity_id, text, text_normalized, position, is_stopword, looks_like_initials)
			SELECT $1, * FROM unnest($2::text[], $3::text[], $4::int[], $5::bool[], $6::bool[])`,
			entityID, texts, normalized, positions, stopwords, initials); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// LoadTokens returns every entity token, ordered by entity and position,
// for rebuilding the in-memory reverse index at startup.
func (s *EntityDBStorage) LoadTokens(ctx context.Context) ([]common.Token, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT entity_id, text, text_normalized, position, is_stopword, looks_like_initials
		FROM entity_tokens
		ORDER BY entity_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []common.Token
	for rows.Next() {
		var t common.Token
		if err := rows.Scan(&t.EntityID, &t.Text, &t.TextNormalized, &t.Position, &t.IsStopword, &t.LooksLikeInitials); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
