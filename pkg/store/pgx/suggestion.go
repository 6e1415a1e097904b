package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vigia-news/vigia/pkg/common"
	"github.com/vigia-news/vigia/pkg/resolve"
	"github.com/vigia-news/vigia/pkg/store"
)

// suggestionChange is the JSON shape of one requested classification
// change inside a stored suggestion.
type suggestionChange struct {
	EntityID     int64   `json:"entity_id"`
	Kind         string  `json:"classification"`
	CanonicalID  *int64  `json:"canonical_id,omitempty"`
	CanonicalIDs []int64 `json:"canonical_ids,omitempty"`
}

func encodeSuggestionChanges(changes []resolve.ClassificationChange) ([]byte, error) {
	out := make([]suggestionChange, 0, len(changes))
	for _, c := range changes {
		kind, canonicalID, canonicalIDs := encodeClassification(c.Classification)
		out = append(out, suggestionChange{
			EntityID:     c.EntityID,
			Kind:         kind,
			CanonicalID:  canonicalID,
			CanonicalIDs: canonicalIDs,
		})
	}
	return json.Marshal(out)
}

func decodeSuggestionChanges(raw []byte) ([]resolve.ClassificationChange, error) {
	var in []suggestionChange
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]resolve.ClassificationChange, 0, len(in))
	for _, c := range in {
		cls, err := decodeClassification(c.Kind, c.CanonicalID, c.CanonicalIDs)
		if err != nil {
			return nil, fmt.Errorf("suggestion change for entity %d: %w", c.EntityID, err)
		}
		out = append(out, resolve.ClassificationChange{
			EntityID:       c.EntityID,
			Classification: cls,
		})
	}
	return out, nil
}

// SaveSuggestion stores one below-threshold collaborator verdict for
// manual review. One suggestion per pair; a fresher verdict replaces the
// old one.
func (s *EntityDBStorage) SaveSuggestion(ctx context.Context, suggestion resolve.Suggestion) error {
	a, b := common.PairKey(suggestion.EntityA, suggestion.EntityB)
	changes, err := encodeSuggestionChanges(suggestion.Changes)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO suggestions (entity_a, entity_b, changes, confidence, reasoning)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_a, entity_b) DO UPDATE SET
			changes = EXCLUDED.changes,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			created_at = now()`,
		a, b, changes, suggestion.Confidence, suggestion.Reasoning)
	return err
}

// ListSuggestions returns stored suggestions, highest confidence first.
func (s *EntityDBStorage) ListSuggestions(ctx context.Context, limit int) ([]store.StoredSuggestion, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, entity_a, entity_b, changes, confidence, reasoning, created_at
		FROM suggestions
		ORDER BY confidence DESC, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suggestions []store.StoredSuggestion
	for rows.Next() {
		var (
			sg  store.StoredSuggestion
			raw []byte
		)
		if err := rows.Scan(&sg.ID, &sg.EntityA, &sg.EntityB, &raw, &sg.Confidence, &sg.Reasoning, &sg.CreatedAt); err != nil {
			return nil, err
		}
		changes, err := decodeSuggestionChanges(raw)
		if err != nil {
			return nil, err
		}
		sg.Changes = changes
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

// GetSuggestion returns one stored suggestion by id.
func (s *EntityDBStorage) GetSuggestion(ctx context.Context, id int64) (store.StoredSuggestion, error) {
	var (
		sg  store.StoredSuggestion
		raw []byte
	)
	err := s.conn.QueryRow(ctx, `
		SELECT id, entity_a, entity_b, changes, confidence, reasoning, created_at
		FROM suggestions
		WHERE id = $1`, id).
		Scan(&sg.ID, &sg.EntityA, &sg.EntityB, &raw, &sg.Confidence, &sg.Reasoning, &sg.CreatedAt)
	if err != nil {
		return store.StoredSuggestion{}, err
	}
	sg.Changes, err = decodeSuggestionChanges(raw)
	if err != nil {
		return store.StoredSuggestion{}, err
	}
	return sg, nil
}

// DeleteSuggestion removes a suggestion once a reviewer has accepted or
// dismissed it.
func (s *EntityDBStorage) DeleteSuggestion(ctx context.Context, id int64) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM suggestions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("suggestion %d not found", id)
	}
	return nil
}
